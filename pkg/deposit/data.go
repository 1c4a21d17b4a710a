package deposit

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/prysmaticlabs/prysm/v5/beacon-chain/core/signing"
	"github.com/prysmaticlabs/prysm/v5/config/params"
	"github.com/prysmaticlabs/prysm/v5/contracts/deposit"
	ethpb "github.com/prysmaticlabs/prysm/v5/proto/prysm/v1alpha1"

	"github.com/ethpandaops/validator-deposits/pkg/network"
)

type Data struct {
	DepositData  []*ParsedData
	ExpectedData *ExpectedData
}

type ExpectedData struct {
	Network        string
	Amount         uint64
	WithdrawalCred string
	Count          int
}

type ParsedData struct {
	Deposit *Deposit
	PBData  *ethpb.Deposit_Data
	Format  ExportFormat
}

type Deposit struct {
	PubKey                string `json:"pubkey"`
	WithdrawalCredentials string `json:"withdrawal_credentials"`
	Amount                uint64 `json:"amount"`
	Signature             string `json:"signature"`
	DepositMessageRoot    string `json:"deposit_message_root"`
	DepositDataRoot       string `json:"deposit_data_root"`
	NetworkName           string `json:"network_name"`
	DepositCliVersion     string `json:"deposit_cli_version"`
	ForkVersion           string `json:"fork_version"`
}

// fileEntry matches records of both export formats.
type fileEntry struct {
	Deposit
	Calldata string `json:"calldata"`
}

// NewDepositData loads a deposit-data or deposit-calldata file. Calldata does
// not carry the network or amount, so those are taken from the expectations.
func NewDepositData(path, expectedNetwork, expectedWithdrawalCred string, expectedAmount uint64, expectedCount int) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read deposit data file")
	}

	var entries []*fileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal deposit data")
	}

	expected := &ExpectedData{
		Network:        expectedNetwork,
		Amount:         expectedAmount,
		WithdrawalCred: strings.TrimPrefix(expectedWithdrawalCred, "0x"),
		Count:          expectedCount,
	}

	depositData := make([]*ParsedData, 0, len(entries))

	for i, entry := range entries {
		var parsed *ParsedData

		if entry.Calldata != "" {
			parsed, err = parseCalldataEntry(entry, expected)
		} else {
			parsed, err = parseDepositEntry(&entry.Deposit)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse entry %d", i)
		}

		depositData = append(depositData, parsed)
	}

	log.WithField("path", path).WithField("count", len(depositData)).Debug("Loaded deposit data")

	return &Data{
		DepositData:  depositData,
		ExpectedData: expected,
	}, nil
}

func parseDepositEntry(d *Deposit) (*ParsedData, error) {
	pubkey, err := hex.DecodeString(d.PubKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode pubkey")
	}

	withdrawalCreds, err := hex.DecodeString(d.WithdrawalCredentials)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode withdrawal credentials")
	}

	signature, err := hex.DecodeString(d.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode signature")
	}

	return &ParsedData{
		Deposit: d,
		PBData: &ethpb.Deposit_Data{
			PublicKey:             pubkey,
			WithdrawalCredentials: withdrawalCreds,
			Amount:                d.Amount,
			Signature:             signature,
		},
		Format: FormatDepositData,
	}, nil
}

func parseCalldataEntry(entry *fileEntry, expected *ExpectedData) (*ParsedData, error) {
	if expected.Network == "" {
		return nil, errors.New("network is required to verify calldata")
	}

	if expected.Amount == 0 {
		return nil, errors.New("amount is required to verify calldata")
	}

	n, err := network.ByName(expected.Network)
	if err != nil {
		return nil, err
	}

	args, err := DecodeCalldataHex(entry.Calldata)
	if err != nil {
		return nil, err
	}

	if entry.PubKey != "" && !strings.EqualFold(strings.TrimPrefix(entry.PubKey, "0x"), hex.EncodeToString(args.PubKey)) {
		return nil, errors.Errorf("pubkey %s does not match calldata", entry.PubKey)
	}

	pbData := args.DepositData(expected.Amount)

	return &ParsedData{
		Deposit: &Deposit{
			PubKey:                hex.EncodeToString(args.PubKey),
			WithdrawalCredentials: hex.EncodeToString(args.WithdrawalCredentials),
			Amount:                expected.Amount,
			Signature:             hex.EncodeToString(args.Signature),
			DepositDataRoot:       hex.EncodeToString(args.DepositDataRoot[:]),
			NetworkName:           n.Name,
			ForkVersion:           n.ForkVersionHex(),
		},
		PBData: pbData,
		Format: FormatCalldata,
	}, nil
}

func (d *Data) Validate() error {
	if d.ExpectedData.Count > 0 && len(d.DepositData) != d.ExpectedData.Count {
		return errors.Errorf("count mismatch: expected %d, got %d", d.ExpectedData.Count, len(d.DepositData))
	}

	for _, set := range d.DepositData {
		if err := set.Deposit.Validate(d.ExpectedData); err != nil {
			return errors.Wrapf(err, "invalid deposit for pubkey %s", set.Deposit.PubKey)
		}
	}

	return nil
}

func (d *Deposit) Validate(expectedData *ExpectedData) error {
	if expectedData.Network != "" && d.NetworkName != expectedData.Network {
		return errors.Errorf("network mismatch: expected %s, got %s", expectedData.Network, d.NetworkName)
	}

	if expectedData.Amount != 0 && d.Amount != expectedData.Amount {
		return errors.Errorf("amount mismatch: expected %d, got %d", expectedData.Amount, d.Amount)
	}

	if expectedData.WithdrawalCred != "" && d.WithdrawalCredentials != expectedData.WithdrawalCred {
		return errors.Errorf("withdrawal credentials mismatch: expected %s, got %s", expectedData.WithdrawalCred, d.WithdrawalCredentials)
	}

	return nil
}

// Verify checks every signature and, where present, the deposit data root.
func (d *Data) Verify() error {
	for _, set := range d.DepositData {
		forkVersion, err := hex.DecodeString(set.Deposit.ForkVersion)
		if err != nil {
			return errors.Wrap(err, "failed to decode fork version")
		}

		ok, err := IsValidDepositSignature(set.PBData, forkVersion)
		if err != nil {
			return errors.Wrapf(err, "invalid deposit for pubkey %s", set.Deposit.PubKey)
		}

		if !ok {
			return errors.Errorf("invalid deposit signature for pubkey %s", set.Deposit.PubKey)
		}

		if err := verifyDataRoot(set); err != nil {
			return errors.Wrapf(err, "invalid deposit for pubkey %s", set.Deposit.PubKey)
		}
	}

	return nil
}

func verifyDataRoot(set *ParsedData) error {
	if set.Deposit.DepositDataRoot == "" {
		return nil
	}

	expected, err := hex.DecodeString(set.Deposit.DepositDataRoot)
	if err != nil {
		return errors.Wrap(err, "failed to decode deposit data root")
	}

	root, err := set.PBData.HashTreeRoot()
	if err != nil {
		return errors.Wrap(err, "failed to compute deposit data root")
	}

	if !bytes.Equal(root[:], expected) {
		return errors.Errorf("deposit data root mismatch: expected %x, got %x", expected, root)
	}

	return nil
}

func IsValidDepositSignature(data *ethpb.Deposit_Data, forkVersion []byte) (bool, error) {
	domain, err := signing.ComputeDomain(params.BeaconConfig().DomainDeposit, forkVersion, nil)
	if err != nil {
		return false, err
	}

	// VerifyDepositSignature may clear the signature of the value it is given.
	cp := &ethpb.Deposit_Data{
		PublicKey:             data.PublicKey,
		WithdrawalCredentials: data.WithdrawalCredentials,
		Amount:                data.Amount,
		Signature:             data.Signature,
	}

	if err := deposit.VerifyDepositSignature(cp, domain); err != nil {
		return false, err
	}

	return true, nil
}
