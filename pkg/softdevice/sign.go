package softdevice

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/prysm/v5/beacon-chain/core/signing"
	"github.com/prysmaticlabs/prysm/v5/config/params"
	"github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
	ethpb "github.com/prysmaticlabs/prysm/v5/proto/prysm/v1alpha1"

	"github.com/ethpandaops/validator-deposits/pkg/credentials"
	"github.com/ethpandaops/validator-deposits/pkg/deposit"
	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
	"github.com/ethpandaops/validator-deposits/pkg/network"
)

// SignDepositMessage signs a deposit for the key at path and verifies the
// signature before returning it.
func (d *Device) SignDepositMessage(
	ctx context.Context,
	path hdpath.Path,
	creds credentials.WithdrawalCredential,
	amountGwei uint64,
	n network.Network,
	format deposit.ExportFormat,
) (*deposit.Artifact, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}

	artifact, err := d.signDeposit(ctx, path, creds, amountGwei, n, format)
	if err = release(err); err != nil {
		return nil, err
	}

	return artifact, nil
}

func (d *Device) signDeposit(
	ctx context.Context,
	path hdpath.Path,
	creds credentials.WithdrawalCredential,
	amountGwei uint64,
	n network.Network,
	format deposit.ExportFormat,
) (*deposit.Artifact, error) {
	if amountGwei == 0 {
		return nil, errors.New("deposit amount must be positive")
	}

	if creds.Kind() == 0 {
		return nil, errors.New("withdrawal credentials not set")
	}

	summary := fmt.Sprintf("%d gwei to %s on %s", amountGwei, creds, n.Name)
	if err := d.approve(ctx, Request{Operation: "sign deposit", Path: path, Summary: summary}); err != nil {
		return nil, err
	}

	sk, err := d.blsKey(path)
	if err != nil {
		return nil, err
	}

	wc := creds.Bytes()
	msg := &ethpb.DepositMessage{
		PublicKey:             sk.PublicKey().Marshal(),
		WithdrawalCredentials: wc[:],
		Amount:                amountGwei,
	}

	domain, err := signing.ComputeDomain(params.BeaconConfig().DomainDeposit, n.GenesisForkVersion[:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute deposit domain")
	}

	root, err := signing.ComputeSigningRoot(msg, domain)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute deposit signing root")
	}

	data := &ethpb.Deposit_Data{
		PublicKey:             msg.PublicKey,
		WithdrawalCredentials: msg.WithdrawalCredentials,
		Amount:                msg.Amount,
		Signature:             sk.Sign(root[:]).Marshal(),
	}

	if ok, errV := deposit.IsValidDepositSignature(data, n.GenesisForkVersion[:]); !ok || errV != nil {
		return nil, errors.Errorf("produced an invalid deposit signature: %v", errV)
	}

	log.WithField("path", path.String()).WithField("format", format.String()).Debug("Signed deposit")

	if format == deposit.FormatCalldata {
		raw, err := deposit.EncodeCalldata(data)
		if err != nil {
			return nil, err
		}

		return &deposit.Artifact{
			Format:   deposit.FormatCalldata,
			Calldata: &deposit.Calldata{Calldata: hexutil.Encode(raw)},
		}, nil
	}

	record, err := deposit.NewDeposit(data, n)
	if err != nil {
		return nil, err
	}

	return &deposit.Artifact{Format: deposit.FormatDepositData, Data: record}, nil
}

// SignCredentialChange signs a BLSToExecutionChange moving validatorIndex to
// executionAddress, using the withdrawal key at withdrawalPath.
func (d *Device) SignCredentialChange(
	ctx context.Context,
	withdrawalPath hdpath.Path,
	executionAddress string,
	validatorIndex uint64,
	n network.Network,
) (*device.SignedCredentialChange, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}

	change, err := d.signChange(ctx, withdrawalPath, executionAddress, validatorIndex, n)
	if err = release(err); err != nil {
		return nil, err
	}

	return change, nil
}

func (d *Device) signChange(
	ctx context.Context,
	withdrawalPath hdpath.Path,
	executionAddress string,
	validatorIndex uint64,
	n network.Network,
) (*device.SignedCredentialChange, error) {
	if purpose, err := withdrawalPath.At(0); err != nil || purpose != hdpath.BLSPurpose {
		return nil, errors.Errorf("withdrawal path %s is not an EIP-2334 path", withdrawalPath)
	}

	addr, err := credentials.ParseEth1Address(executionAddress)
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("validator %d to %s on %s", validatorIndex, credentials.CanonicalEth1Address(executionAddress), n.Name)
	if err := d.approve(ctx, Request{Operation: "sign credential change", Path: withdrawalPath, Summary: summary}); err != nil {
		return nil, err
	}

	sk, err := d.blsKey(withdrawalPath)
	if err != nil {
		return nil, err
	}

	msg := &ethpb.BLSToExecutionChange{
		ValidatorIndex:     primitives.ValidatorIndex(validatorIndex),
		FromBlsPubkey:      sk.PublicKey().Marshal(),
		ToExecutionAddress: addr.Bytes(),
	}

	domain, err := signing.ComputeDomain(
		params.BeaconConfig().DomainBLSToExecutionChange,
		n.GenesisForkVersion[:],
		n.GenesisValidatorsRoot[:],
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute BLS to execution change domain")
	}

	root, err := signing.ComputeSigningRoot(msg, domain)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute BLS to execution change signing root")
	}

	log.WithField("path", withdrawalPath.String()).WithField("validator_index", validatorIndex).Debug("Signed credential change")

	return &device.SignedCredentialChange{
		Message: device.CredentialChange{
			ValidatorIndex:     strconv.FormatUint(validatorIndex, 10),
			FromBLSPubkey:      hexutil.Encode(msg.FromBlsPubkey),
			ToExecutionAddress: credentials.CanonicalEth1Address(executionAddress),
		},
		Signature: hexutil.Encode(sk.Sign(root[:]).Marshal()),
	}, nil
}
