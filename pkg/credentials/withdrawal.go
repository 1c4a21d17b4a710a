// Package credentials validates user supplied withdrawal targets and deposit
// amounts, and builds 32 byte withdrawal credentials.
package credentials

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/prysm/v5/config/params"
	"github.com/prysmaticlabs/prysm/v5/crypto/hash"
)

// BLSPubkeyLength is the size of a compressed BLS12-381 G1 public key.
const BLSPubkeyLength = 48

// ErrInvalidPubkey is returned for BLS public keys of the wrong size.
var ErrInvalidPubkey = errors.New("invalid BLS public key")

// Kind discriminates the withdrawal credential representations.
type Kind int

const (
	// KindETH1 commits to an execution layer address (0x01).
	KindETH1 Kind = iota + 1
	// KindBLS commits to a BLS withdrawal key (0x00).
	KindBLS
)

func (k Kind) String() string {
	switch k {
	case KindETH1:
		return "eth1"
	case KindBLS:
		return "bls"
	default:
		return "unknown"
	}
}

// WithdrawalCredential is either an ETH1 address or a BLS withdrawal public key.
// BLS credentials are always computed from a public key, never supplied directly.
type WithdrawalCredential struct {
	kind      Kind
	address   common.Address
	blsPubkey []byte
}

// NewETH1Credential validates and canonicalises address.
func NewETH1Credential(address string) (WithdrawalCredential, error) {
	addr, err := ParseEth1Address(address)
	if err != nil {
		return WithdrawalCredential{}, err
	}

	return WithdrawalCredential{kind: KindETH1, address: addr}, nil
}

// NewBLSCredential builds a 0x00 credential from a withdrawal public key.
func NewBLSCredential(pubkey []byte) (WithdrawalCredential, error) {
	if len(pubkey) != BLSPubkeyLength {
		return WithdrawalCredential{}, errors.Wrapf(ErrInvalidPubkey, "expected %d bytes, got %d", BLSPubkeyLength, len(pubkey))
	}

	cp := make([]byte, len(pubkey))
	copy(cp, pubkey)

	return WithdrawalCredential{kind: KindBLS, blsPubkey: cp}, nil
}

// Kind returns the active representation.
func (c WithdrawalCredential) Kind() Kind {
	return c.kind
}

// Bytes returns the 32 byte withdrawal credentials.
func (c WithdrawalCredential) Bytes() [32]byte {
	switch c.kind {
	case KindETH1:
		return ETH1WithdrawalCredentials(c.address)
	case KindBLS:
		return BLSWithdrawalCredentials(c.blsPubkey)
	default:
		return [32]byte{}
	}
}

// Hex returns the credentials as lowercase hex without a 0x prefix.
func (c WithdrawalCredential) Hex() string {
	b := c.Bytes()

	return hex.EncodeToString(b[:])
}

// Address returns the lowercase 0x address for ETH1 credentials.
func (c WithdrawalCredential) Address() string {
	if c.kind != KindETH1 {
		return ""
	}

	return "0x" + hex.EncodeToString(c.address.Bytes())
}

// BLSPubkey returns the withdrawal public key for BLS credentials.
func (c WithdrawalCredential) BLSPubkey() []byte {
	if c.kind != KindBLS {
		return nil
	}

	cp := make([]byte, len(c.blsPubkey))
	copy(cp, c.blsPubkey)

	return cp
}

func (c WithdrawalCredential) String() string {
	switch c.kind {
	case KindETH1:
		return fmt.Sprintf("eth1(%s)", c.Address())
	case KindBLS:
		return fmt.Sprintf("bls(0x%x)", c.blsPubkey)
	default:
		return "none"
	}
}

// BLSWithdrawalCredentials returns BLS_WITHDRAWAL_PREFIX || sha256(pubkey)[1:].
func BLSWithdrawalCredentials(pubkey []byte) [32]byte {
	h := hash.Hash(pubkey)
	h[0] = params.BeaconConfig().BLSWithdrawalPrefixByte

	return h
}

// ETH1WithdrawalCredentials returns ETH1_ADDRESS_WITHDRAWAL_PREFIX || 0x00*11 || address.
func ETH1WithdrawalCredentials(address common.Address) [32]byte {
	var creds [32]byte

	creds[0] = params.BeaconConfig().ETH1AddressWithdrawalPrefixByte
	copy(creds[12:], address.Bytes())

	return creds
}
