package workflow

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/validator-deposits/pkg/artifact"
	"github.com/ethpandaops/validator-deposits/pkg/beacon"
	"github.com/ethpandaops/validator-deposits/pkg/credentials"
	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
)

// ChangeState is a step of the credential-change batch.
type ChangeState int

const (
	ChangeConfirmingBLS ChangeState = iota
	ChangeCollectingParameters
	ChangeDerivingKeys
	ChangeResolvingIndex
	ChangeConfirmingChange
	ChangeSigning
	ChangeAwaitingContinue
	ChangeFinalizing
	ChangeDone
)

func (s ChangeState) String() string {
	switch s {
	case ChangeConfirmingBLS:
		return "confirming_bls"
	case ChangeCollectingParameters:
		return "collecting_parameters"
	case ChangeDerivingKeys:
		return "deriving_keys"
	case ChangeResolvingIndex:
		return "resolving_index"
	case ChangeConfirmingChange:
		return "confirming_change"
	case ChangeSigning:
		return "signing"
	case ChangeAwaitingContinue:
		return "awaiting_continue"
	case ChangeFinalizing:
		return "finalizing"
	case ChangeDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BeaconNode is the optional beacon API used to look up validator indices and
// submit signed changes.
type BeaconNode interface {
	Validator(ctx context.Context, id string) (*beacon.ValidatorInfo, error)
	SubmitBLSToExecutionChanges(ctx context.Context, changes []*device.SignedCredentialChange) error
}

// DefaultBeaconURL is shown in submission instructions when no node is set.
const DefaultBeaconURL = "http://localhost:5052"

// ChangeRecord is one signed credential change.
type ChangeRecord struct {
	SigningPath     hdpath.Path
	WithdrawalPath  hdpath.Path
	ValidatorPubkey []byte
	WithdrawalKey   []byte
	ValidatorIndex  uint64
	Change          *device.SignedCredentialChange
}

// ChangeResult describes what a credential-change batch wrote.
type ChangeResult struct {
	Records   []*ChangeRecord
	Timestamp int64
	File      string
	Submitted bool
}

// CredentialChangeBatch signs BLSToExecutionChange messages for a run of
// validators. Any device failure ends the loop; changes signed before it are
// still written.
type CredentialChangeBatch struct {
	cfg       Config
	beacon    BeaconNode
	beaconURL string

	sequential bool
	address    string
	index      uint32
	current    *ChangeRecord
	changes    []*ChangeRecord
	result     *ChangeResult
}

// NewCredentialChangeBatch returns a batch driven by cfg. node may be nil, in
// which case validator indices are entered by hand.
func NewCredentialChangeBatch(cfg Config, node BeaconNode, beaconURL string) *CredentialChangeBatch {
	if beaconURL == "" {
		beaconURL = DefaultBeaconURL
	}

	return &CredentialChangeBatch{
		cfg:       cfg.withDefaults(),
		beacon:    node,
		beaconURL: strings.TrimSuffix(beaconURL, "/"),
	}
}

// Run drives the batch to completion.
func (b *CredentialChangeBatch) Run(ctx context.Context) (*ChangeResult, error) {
	state := ChangeConfirmingBLS

	for state != ChangeDone {
		next, err := b.handler(state)(ctx)
		if err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"state": state.String(),
			"next":  next.String(),
		}).Debug("Credential change transition")

		state = next
	}

	return b.result, nil
}

func (b *CredentialChangeBatch) handler(s ChangeState) func(context.Context) (ChangeState, error) {
	switch s {
	case ChangeConfirmingBLS:
		return b.confirmBLS
	case ChangeCollectingParameters:
		return b.collectParameters
	case ChangeDerivingKeys:
		return b.deriveKeys
	case ChangeResolvingIndex:
		return b.resolveIndex
	case ChangeConfirmingChange:
		return b.confirmChange
	case ChangeSigning:
		return b.sign
	case ChangeAwaitingContinue:
		return b.awaitContinue
	case ChangeFinalizing:
		return b.finalize
	default:
		return func(context.Context) (ChangeState, error) {
			return ChangeDone, errors.Errorf("unknown state %s", s)
		}
	}
}

func (b *CredentialChangeBatch) confirmBLS(_ context.Context) (ChangeState, error) {
	ok, err := b.cfg.UI.Confirm("Are the current withdrawal credentials of your validators BLS (0x00)?", true)
	if err != nil {
		return ChangeDone, err
	}

	if !ok {
		b.cfg.UI.Error("Only validators with BLS withdrawal credentials can be changed")
		b.result = &ChangeResult{}

		return ChangeDone, nil
	}

	return ChangeCollectingParameters, nil
}

func (b *CredentialChangeBatch) collectParameters(_ context.Context) (ChangeState, error) {
	ui := b.cfg.UI

	sequential, err := ui.Confirm("Were the validators created from the default EIP-2334 paths (m/12381/3600/i/0/0)?", true)
	if err != nil {
		return ChangeDone, err
	}

	b.sequential = sequential

	if sequential {
		start, err := numberUntil(ui, "Starting validator key index", 0, 0, maxValidatorIndex)
		if err != nil {
			return ChangeDone, err
		}

		b.index = uint32(start)
	}

	cred, err := inputUntil(ui, "New withdrawal address", "", credentials.NewETH1Credential)
	if err != nil {
		return ChangeDone, err
	}

	b.address = cred.Address()

	return ChangeDerivingKeys, nil
}

func (b *CredentialChangeBatch) paths() (hdpath.Path, hdpath.Path, error) {
	if b.sequential {
		return hdpath.SigningPath(b.index), hdpath.WithdrawalPath(b.index), nil
	}

	ui := b.cfg.UI

	signing, err := inputUntil(ui, "Validator signing key path", hdpath.SigningPath(b.index).String(), hdpath.Parse)
	if err != nil {
		return hdpath.Path{}, hdpath.Path{}, err
	}

	def := signing
	if parent, errP := signing.Parent(); errP == nil {
		def = parent
	}

	withdrawal, err := inputUntil(ui, "Withdrawal key path", def.String(), hdpath.Parse)
	if err != nil {
		return hdpath.Path{}, hdpath.Path{}, err
	}

	return signing, withdrawal, nil
}

func (b *CredentialChangeBatch) deriveKeys(ctx context.Context) (ChangeState, error) {
	signingPath, withdrawalPath, err := b.paths()
	if err != nil {
		return ChangeDone, err
	}

	rec := &ChangeRecord{SigningPath: signingPath, WithdrawalPath: withdrawalPath}

	rec.ValidatorPubkey, err = b.derive(ctx, signingPath)
	if err != nil {
		return b.abort(err)
	}

	rec.WithdrawalKey, err = b.derive(ctx, withdrawalPath)
	if err != nil {
		return b.abort(err)
	}

	b.current = rec

	return ChangeResolvingIndex, nil
}

func (b *CredentialChangeBatch) derive(ctx context.Context, path hdpath.Path) ([]byte, error) {
	return callDevice(ctx, b.cfg.Clock, b.cfg.UI, b.cfg.DeviceTimeout, b.cfg.ProgressInterval, "Deriving "+path.String(),
		func(ctx context.Context) ([]byte, error) {
			return b.cfg.Device.DerivePublicKey(ctx, path, device.SchemeBLS12381G1)
		})
}

func (b *CredentialChangeBatch) resolveIndex(ctx context.Context) (ChangeState, error) {
	ui := b.cfg.UI
	pubkey := "0x" + hex.EncodeToString(b.current.ValidatorPubkey)

	if b.beacon != nil {
		info, err := b.beacon.Validator(ctx, pubkey)
		if err == nil {
			expected := credentials.BLSWithdrawalCredentials(b.current.WithdrawalKey)
			if !strings.EqualFold(strings.TrimPrefix(info.WithdrawalCredentials, "0x"), hex.EncodeToString(expected[:])) {
				return b.abort(errors.Errorf("validator %d has withdrawal credentials %s, not the BLS credentials of %s",
					info.Index, info.WithdrawalCredentials, b.current.WithdrawalPath))
			}

			b.current.ValidatorIndex = info.Index

			return ChangeConfirmingChange, nil
		}

		ui.Warn(fmt.Sprintf("Could not look up %s on the beacon node: %v", pubkey, err))
	}

	ui.Info(fmt.Sprintf("Find the index of validator %s at %s", pubkey, b.cfg.Network.ValidatorURL(pubkey)))

	index, err := inputUntil(ui, "Validator index", "", func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	})
	if err != nil {
		return ChangeDone, err
	}

	b.current.ValidatorIndex = index

	return ChangeConfirmingChange, nil
}

func (b *CredentialChangeBatch) confirmChange(_ context.Context) (ChangeState, error) {
	ui := b.cfg.UI

	current := credentials.BLSWithdrawalCredentials(b.current.WithdrawalKey)

	next, err := credentials.NewETH1Credential(b.address)
	if err != nil {
		return ChangeDone, err
	}

	ui.Info(fmt.Sprintf("Validator %d (%s)", b.current.ValidatorIndex, b.current.SigningPath))
	ui.Info("  current withdrawal credentials: 0x" + hex.EncodeToString(current[:]))
	ui.Info("  new withdrawal credentials:     0x" + next.Hex())

	ok, err := ui.Confirm("This change is irreversible. Sign it?", false)
	if err != nil {
		return ChangeDone, err
	}

	if !ok {
		ui.Warn(fmt.Sprintf("Skipped validator %d", b.current.ValidatorIndex))
		b.current = nil

		return ChangeAwaitingContinue, nil
	}

	return ChangeSigning, nil
}

func (b *CredentialChangeBatch) sign(ctx context.Context) (ChangeState, error) {
	rec := b.current

	change, err := callDevice(ctx, b.cfg.Clock, b.cfg.UI, b.cfg.DeviceTimeout, b.cfg.ProgressInterval, "Signing credential change",
		func(ctx context.Context) (*device.SignedCredentialChange, error) {
			return b.cfg.Device.SignCredentialChange(ctx, rec.WithdrawalPath, b.address, rec.ValidatorIndex, b.cfg.Network)
		})
	if err != nil {
		return b.abort(err)
	}

	rec.Change = change
	b.changes = append(b.changes, rec)
	b.current = nil

	b.cfg.UI.Success(fmt.Sprintf("Signed credential change for validator %d", rec.ValidatorIndex))

	return ChangeAwaitingContinue, nil
}

func (b *CredentialChangeBatch) awaitContinue(_ context.Context) (ChangeState, error) {
	ok, err := b.cfg.UI.Confirm("Change another validator?", true)
	if err != nil {
		return ChangeDone, err
	}

	if !ok {
		return ChangeFinalizing, nil
	}

	b.index++

	return ChangeDerivingKeys, nil
}

// abort ends the loop on any device failure. There is no per-step retry.
func (b *CredentialChangeBatch) abort(err error) (ChangeState, error) {
	log.WithError(err).Debug("Credential change loop aborted")

	if errors.Is(err, device.ErrDeviceDeclined) {
		b.cfg.UI.Error("Request declined on the device, stopping")
	} else {
		b.cfg.UI.Error(fmt.Sprintf("Stopping: %v", err))
	}

	b.current = nil

	return ChangeFinalizing, nil
}

func (b *CredentialChangeBatch) finalize(ctx context.Context) (ChangeState, error) {
	ui := b.cfg.UI

	if len(b.changes) == 0 {
		ui.Warn("No credential changes were signed, nothing written")

		b.result = &ChangeResult{}

		return ChangeDone, nil
	}

	dir, err := inputUntil(ui, "Output directory", b.cfg.OutputDir, nonEmpty)
	if err != nil {
		return ChangeDone, err
	}

	ts := b.cfg.Clock.Now().UnixMilli()

	signed := make([]*device.SignedCredentialChange, 0, len(b.changes))
	for _, rec := range b.changes {
		signed = append(signed, rec.Change)
	}

	file, err := artifact.WriteCredentialChanges(dir, ts, signed)
	if err != nil {
		return ChangeDone, err
	}

	ui.Success(fmt.Sprintf("Wrote %d credential change(s) to %s", len(signed), file))
	ui.Info("Submit them to a beacon node with:")
	ui.Info(fmt.Sprintf("  curl -X POST -H 'Content-Type: application/json' -d @%s %s%s", file, b.beaconURL, beacon.SubmitChangesEndpoint))

	b.result = &ChangeResult{Records: b.changes, Timestamp: ts, File: file}

	if b.beacon == nil {
		return ChangeDone, nil
	}

	submit, err := ui.Confirm("Submit to "+b.beaconURL+" now?", false)
	if err != nil {
		return ChangeDone, err
	}

	if !submit {
		return ChangeDone, nil
	}

	if err := b.beacon.SubmitBLSToExecutionChanges(ctx, signed); err != nil {
		ui.Error(fmt.Sprintf("Submission failed, use the curl command above: %v", err))

		return ChangeDone, nil
	}

	ui.Success("Credential changes submitted")

	b.result.Submitted = true

	return ChangeDone, nil
}
