package workflow

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/validator-deposits/pkg/artifact"
	"github.com/ethpandaops/validator-deposits/pkg/credentials"
	"github.com/ethpandaops/validator-deposits/pkg/deposit"
	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
)

// DepositState is a step of the deposit batch.
type DepositState int

const (
	StateCollectingParameters DepositState = iota
	StateExportingKeystore
	StateResolvingWithdrawalKey
	StateSigningArtifact
	StateAwaitingContinue
	StateFinalizing
	StateDone
)

func (s DepositState) String() string {
	switch s {
	case StateCollectingParameters:
		return "collecting_parameters"
	case StateExportingKeystore:
		return "exporting_keystore"
	case StateResolvingWithdrawalKey:
		return "resolving_withdrawal_key"
	case StateSigningArtifact:
		return "signing_artifact"
	case StateAwaitingContinue:
		return "awaiting_continue"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const encryptionRemediation = "The signing device has no keystore encryption password. " +
	"Run `validator-deposits login` and set a keystore password, then retry."

const blsWithdrawalWarning = "BLS (0x00) withdrawal credentials cannot receive withdrawals. " +
	"They must later be changed to an execution address with a one-time, irreversible signed message."

var (
	withdrawalChoices = []string{"ETH1 address (0x01)", "BLS withdrawal key (0x00)"}
	formatChoices     = []string{"Deposit data JSON (launchpad)", "Deposit contract calldata"}
)

// ValidatorRecord is one fully processed validator.
type ValidatorRecord struct {
	Index      int
	Path       hdpath.Path
	Withdrawal credentials.WithdrawalCredential
	Keystore   []byte
	Artifact   *deposit.Artifact
}

// DepositParams apply to every record of a batch.
type DepositParams struct {
	UseBLS    bool
	ETH1      credentials.WithdrawalCredential
	Format    deposit.ExportFormat
	Amount    credentials.Amount
	StartPath hdpath.Path
}

// DepositResult describes what a deposit batch wrote.
type DepositResult struct {
	Records   []*ValidatorRecord
	Timestamp int64
	Dir       string
	Files     []string
}

// DepositBatch generates keystores and signed deposits for consecutive
// validators until the operator stops.
type DepositBatch struct {
	cfg    Config
	bounds credentials.AmountBounds

	params    DepositParams
	path      hdpath.Path
	current   *ValidatorRecord
	batch     []*ValidatorRecord
	timestamp int64
	result    *DepositResult
}

// NewDepositBatch returns a batch driven by cfg.
func NewDepositBatch(cfg Config) *DepositBatch {
	return &DepositBatch{
		cfg:    cfg.withDefaults(),
		bounds: credentials.DefaultAmountBounds,
	}
}

// Run drives the batch to completion. Prompt interruptions return ErrAborted
// without writing anything.
func (b *DepositBatch) Run(ctx context.Context) (*DepositResult, error) {
	state := StateCollectingParameters

	for state != StateDone {
		next, err := b.handler(state)(ctx)
		if err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"state": state.String(),
			"next":  next.String(),
			"path":  b.path.String(),
		}).Debug("Deposit batch transition")

		state = next
	}

	return b.result, nil
}

func (b *DepositBatch) handler(s DepositState) func(context.Context) (DepositState, error) {
	switch s {
	case StateCollectingParameters:
		return b.collectParameters
	case StateExportingKeystore:
		return b.exportKeystore
	case StateResolvingWithdrawalKey:
		return b.resolveWithdrawalKey
	case StateSigningArtifact:
		return b.signArtifact
	case StateAwaitingContinue:
		return b.awaitContinue
	case StateFinalizing:
		return b.finalize
	default:
		return func(context.Context) (DepositState, error) {
			return StateDone, errors.Errorf("unknown state %s", s)
		}
	}
}

func (b *DepositBatch) collectParameters(_ context.Context) (DepositState, error) {
	ui := b.cfg.UI

	useBLS, eth1, err := b.chooseWithdrawal()
	if err != nil {
		return StateDone, err
	}

	format, err := ui.Select("Export format", formatChoices)
	if err != nil {
		return StateDone, err
	}

	amount, err := b.chooseAmount()
	if err != nil {
		return StateDone, err
	}

	start, err := numberUntil(ui, "Starting validator index", 0, 0, maxValidatorIndex)
	if err != nil {
		return StateDone, err
	}

	b.params = DepositParams{
		UseBLS: useBLS,
		ETH1:   eth1,
		Format: deposit.ExportFormat(format),
		Amount: amount,
	}

	b.params.StartPath, err = hdpath.DefaultSigningPath.WithIndexAt(hdpath.ValidatorSlot, uint32(start))
	if err != nil {
		return StateDone, err
	}
	b.path = b.params.StartPath

	log.WithFields(logrus.Fields{
		"bls":    useBLS,
		"format": b.params.Format.String(),
		"gwei":   amount.Gwei,
		"path":   b.path.String(),
	}).Info("Deposit parameters collected")

	return StateExportingKeystore, nil
}

func (b *DepositBatch) chooseWithdrawal() (bool, credentials.WithdrawalCredential, error) {
	ui := b.cfg.UI

	for {
		choice, err := ui.Select("Withdrawal credentials", withdrawalChoices)
		if err != nil {
			return false, credentials.WithdrawalCredential{}, err
		}

		if choice == 0 {
			cred, err := inputUntil(ui, "Withdrawal address", "", credentials.NewETH1Credential)

			return false, cred, err
		}

		ui.Warn(blsWithdrawalWarning)

		ok, err := ui.Confirm("Use BLS withdrawal credentials?", false)
		if err != nil {
			return false, credentials.WithdrawalCredential{}, err
		}

		if ok {
			return true, credentials.WithdrawalCredential{}, nil
		}
	}
}

func (b *DepositBatch) chooseAmount() (credentials.Amount, error) {
	ui := b.cfg.UI
	parse := func(s string) (credentials.Amount, error) {
		return credentials.ValidateDepositAmountEth(s, b.bounds)
	}

	for {
		amount, err := inputUntil(ui, "Deposit amount (ETH)", b.bounds.Default.String(), parse)
		if err != nil {
			return credentials.Amount{}, err
		}

		if !amount.NeedsConfirmation {
			return amount, nil
		}

		ok, err := ui.Confirm(fmt.Sprintf("Deposit %s ETH per validator instead of %s ETH?", amount.ETH, b.bounds.Default), false)
		if err != nil {
			return credentials.Amount{}, err
		}

		if ok {
			return amount, nil
		}
	}
}

func (b *DepositBatch) exportKeystore(ctx context.Context) (DepositState, error) {
	if b.current == nil {
		b.current = &ValidatorRecord{Index: len(b.batch), Path: b.path}
	}

	b.cfg.UI.Info(fmt.Sprintf("Exporting keystore for %s, confirm on the device", b.path))

	blob, err := callDevice(ctx, b.cfg.Clock, b.cfg.UI, b.cfg.DeviceTimeout, b.cfg.ProgressInterval, "Exporting keystore",
		func(ctx context.Context) ([]byte, error) {
			return b.cfg.Device.ExportEncryptedKeystore(ctx, b.path)
		})
	if err != nil {
		return b.onFailure(StateExportingKeystore, err)
	}

	b.current.Keystore = blob

	return StateResolvingWithdrawalKey, nil
}

func (b *DepositBatch) resolveWithdrawalKey(ctx context.Context) (DepositState, error) {
	if !b.params.UseBLS {
		b.current.Withdrawal = b.params.ETH1

		return StateSigningArtifact, nil
	}

	withdrawalPath, err := b.path.Parent()
	if err != nil {
		return StateDone, err
	}

	pubkey, err := callDevice(ctx, b.cfg.Clock, b.cfg.UI, b.cfg.DeviceTimeout, b.cfg.ProgressInterval, "Deriving withdrawal key",
		func(ctx context.Context) ([]byte, error) {
			return b.cfg.Device.DerivePublicKey(ctx, withdrawalPath, device.SchemeBLS12381G1)
		})
	if err != nil {
		return b.onFailure(StateResolvingWithdrawalKey, err)
	}

	cred, err := credentials.NewBLSCredential(pubkey)
	if err != nil {
		return b.onFailure(StateResolvingWithdrawalKey, err)
	}

	b.current.Withdrawal = cred

	return StateSigningArtifact, nil
}

func (b *DepositBatch) signArtifact(ctx context.Context) (DepositState, error) {
	art, err := callDevice(ctx, b.cfg.Clock, b.cfg.UI, b.cfg.DeviceTimeout, b.cfg.ProgressInterval, "Signing deposit",
		func(ctx context.Context) (*deposit.Artifact, error) {
			return b.cfg.Device.SignDepositMessage(ctx, b.path, b.current.Withdrawal, b.params.Amount.Gwei, b.cfg.Network, b.params.Format)
		})
	if err != nil {
		return b.onFailure(StateSigningArtifact, err)
	}

	if err := b.checkArtifact(art); err != nil {
		return b.onFailure(StateSigningArtifact, err)
	}

	b.current.Artifact = art
	b.batch = append(b.batch, b.current)
	b.current = nil

	b.cfg.UI.Success(fmt.Sprintf("Validator %s signed (0x%s)", b.path, art.PubKey()))

	return StateAwaitingContinue, nil
}

// checkArtifact ensures the device answered in the requested format and, for
// calldata, extracts the validator public key from the encoded call.
func (b *DepositBatch) checkArtifact(art *deposit.Artifact) error {
	if art == nil || art.Format != b.params.Format {
		return errors.Errorf("device returned an artifact in the wrong format, expected %s", b.params.Format)
	}

	if art.Format == deposit.FormatCalldata {
		if art.Calldata == nil {
			return errors.Wrap(deposit.ErrMalformedCalldata, "no calldata")
		}

		return art.Calldata.FillPubKey()
	}

	if art.Data == nil {
		return errors.New("device returned no deposit data")
	}

	return nil
}

func (b *DepositBatch) awaitContinue(_ context.Context) (DepositState, error) {
	next, err := b.path.NextValidator()
	if errors.Is(err, hdpath.ErrIndexOutOfRange) {
		b.cfg.UI.Warn(fmt.Sprintf("%s is the last validator index", b.path))

		return StateFinalizing, nil
	}

	if err != nil {
		return StateDone, err
	}

	ok, err := b.cfg.UI.Confirm(fmt.Sprintf("Continue with the next validator (%s)?", next), true)
	if err != nil {
		return StateDone, err
	}

	if !ok {
		return StateFinalizing, nil
	}

	b.path = next

	return StateExportingKeystore, nil
}

func (b *DepositBatch) finalize(_ context.Context) (DepositState, error) {
	ui := b.cfg.UI

	if len(b.batch) == 0 {
		ui.Warn("No validators were processed, nothing written")

		b.result = &DepositResult{}

		return StateDone, nil
	}

	dir, err := inputUntil(ui, "Output directory", b.cfg.OutputDir, nonEmpty)
	if err != nil {
		return StateDone, err
	}

	if b.timestamp == 0 {
		b.timestamp = b.cfg.Clock.Now().UnixMilli()
	}

	files, err := b.write(dir)
	if err != nil {
		ui.Error(err.Error())

		retry, errP := ui.Confirm("Retry writing the files?", true)
		if errP != nil {
			return StateDone, errP
		}

		if retry {
			return StateFinalizing, nil
		}

		return StateDone, err
	}

	ui.Success(fmt.Sprintf("Wrote %d keystore(s) and %s", len(b.batch), files[len(files)-1]))
	b.printInstructions()

	b.result = &DepositResult{
		Records:   b.batch,
		Timestamp: b.timestamp,
		Dir:       dir,
		Files:     files,
	}

	return StateDone, nil
}

// write emits every keystore, then the aggregate file last.
func (b *DepositBatch) write(dir string) ([]string, error) {
	files := make([]string, 0, len(b.batch)+1)
	artifacts := make([]*deposit.Artifact, 0, len(b.batch))

	for _, rec := range b.batch {
		path, err := artifact.WriteKeystore(dir, rec.Index, rec.Artifact.PubKey(), b.timestamp, rec.Keystore)
		if err != nil {
			return nil, err
		}

		files = append(files, path)
		artifacts = append(artifacts, rec.Artifact)
	}

	path, err := artifact.WriteAggregate(dir, b.params.Format, b.timestamp, artifacts)
	if err != nil {
		return nil, err
	}

	return append(files, path), nil
}

func (b *DepositBatch) printInstructions() {
	n := b.cfg.Network

	if b.params.Format == deposit.FormatCalldata {
		b.cfg.UI.Info(fmt.Sprintf(
			"Send one transaction per calldata entry to the %s deposit contract %s with a value of %s wei (%s ETH)",
			n.Name, n.DepositContract.Hex(), deposit.ValueWei(b.params.Amount.Gwei), b.params.Amount.ETH,
		))

		return
	}

	b.cfg.UI.Info(fmt.Sprintf("Upload the deposit data file to the %s staking launchpad to submit the deposits", n.Name))
}

// onFailure reports a failed step and asks whether to retry it. Declining drops
// the record in progress and finalises what was collected.
func (b *DepositBatch) onFailure(state DepositState, err error) (DepositState, error) {
	ui := b.cfg.UI

	log.WithError(err).WithFields(logrus.Fields{
		"state": state.String(),
		"path":  b.path.String(),
	}).Debug("Deposit step failed")

	switch {
	case errors.Is(err, device.ErrEncryptionNotConfigured):
		ui.Error(encryptionRemediation)
	case errors.Is(err, device.ErrDeviceDeclined):
		ui.Error(fmt.Sprintf("Request for %s was declined on the device", b.path))
	default:
		ui.Error(fmt.Sprintf("Failed %s for %s: %v", state, b.path, err))
	}

	retry, errP := ui.Confirm("Retry?", true)
	if errP != nil {
		return StateDone, errP
	}

	if retry {
		return state, nil
	}

	b.current = nil

	return StateFinalizing, nil
}

func nonEmpty(s string) (string, error) {
	if s == "" {
		return "", errors.New("value cannot be empty")
	}

	return s, nil
}
