// Package device defines the contract for the signing device that holds the
// seed. Every key derivation and signature goes through a Gateway; callers
// never see private key material.
package device

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ethpandaops/validator-deposits/pkg/credentials"
	"github.com/ethpandaops/validator-deposits/pkg/deposit"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
	"github.com/ethpandaops/validator-deposits/pkg/network"
)

var (
	// ErrDeviceUnavailable is returned when the device cannot be reached or
	// the operation timed out.
	ErrDeviceUnavailable = errors.New("signing device unavailable")
	// ErrDeviceDeclined is returned when the operator rejected the request on
	// the device.
	ErrDeviceDeclined = errors.New("request declined on device")
	// ErrEncryptionNotConfigured is returned by keystore export when the device
	// has no keystore password.
	ErrEncryptionNotConfigured = errors.New("keystore encryption password not configured")
	// ErrUnsupportedScheme is returned for key schemes the device cannot derive.
	ErrUnsupportedScheme = errors.New("unsupported key scheme")
)

// KeyScheme identifies the curve a public key is derived on.
type KeyScheme int

const (
	SchemeSecp256k1 KeyScheme = iota
	SchemeEd25519
	SchemeBLS12381G1
)

func (s KeyScheme) String() string {
	switch s {
	case SchemeSecp256k1:
		return "secp256k1"
	case SchemeEd25519:
		return "ed25519"
	case SchemeBLS12381G1:
		return "bls12_381_g1"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// Gateway is the signing device. Implementations must honour ctx cancellation
// and report a cancelled or expired ctx as ErrDeviceUnavailable.
type Gateway interface {
	// DerivePublicKey returns the public key at path.
	DerivePublicKey(ctx context.Context, path hdpath.Path, scheme KeyScheme) ([]byte, error)
	// ExportEncryptedKeystore returns the EIP-2335 keystore JSON for the BLS
	// key at path.
	ExportEncryptedKeystore(ctx context.Context, path hdpath.Path) ([]byte, error)
	// SignDepositMessage signs a deposit for the BLS key at path.
	SignDepositMessage(
		ctx context.Context,
		path hdpath.Path,
		creds credentials.WithdrawalCredential,
		amountGwei uint64,
		n network.Network,
		format deposit.ExportFormat,
	) (*deposit.Artifact, error)
	// SignCredentialChange signs a BLSToExecutionChange with the withdrawal key
	// at withdrawalPath.
	SignCredentialChange(
		ctx context.Context,
		withdrawalPath hdpath.Path,
		executionAddress string,
		validatorIndex uint64,
		n network.Network,
	) (*SignedCredentialChange, error)
}

// CredentialChange is a BLSToExecutionChange message in beacon API encoding.
type CredentialChange struct {
	ValidatorIndex     string `json:"validator_index"`
	FromBLSPubkey      string `json:"from_bls_pubkey"`
	ToExecutionAddress string `json:"to_execution_address"`
}

// SignedCredentialChange is a signed BLSToExecutionChange.
type SignedCredentialChange struct {
	Message   CredentialChange `json:"message"`
	Signature string           `json:"signature"`
}

type approvalHookKey struct{}

// WithApprovalHook returns a copy of ctx on which AwaitApproval calls hook.
// hook returns the func that ends the wait.
func WithApprovalHook(ctx context.Context, hook func() (resume func())) context.Context {
	return context.WithValue(ctx, approvalHookKey{}, hook)
}

// AwaitApproval marks the request running on ctx as waiting for the operator.
// Callers must invoke the returned func once the operator has answered.
func AwaitApproval(ctx context.Context) func() {
	hook, ok := ctx.Value(approvalHookKey{}).(func() func())
	if !ok {
		return func() {}
	}

	return hook()
}
