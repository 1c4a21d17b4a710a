package deposit

import (
	"encoding/hex"
	"strconv"

	"github.com/pkg/errors"
	ethpb "github.com/prysmaticlabs/prysm/v5/proto/prysm/v1alpha1"

	"github.com/ethpandaops/validator-deposits/pkg/network"
)

// depositCliVersion is reported in deposit data files. The launchpad rejects
// files without it.
const depositCliVersion = "2.7.0"

// ExportFormat selects how signed deposits are exported.
type ExportFormat int

const (
	// FormatDepositData is the launchpad deposit-data JSON object.
	FormatDepositData ExportFormat = iota
	// FormatCalldata is the ABI-encoded deposit contract call.
	FormatCalldata
)

// String returns the file name stem for the format.
func (f ExportFormat) String() string {
	if f == FormatCalldata {
		return "deposit-calldata"
	}

	return "deposit-data"
}

// Calldata is one entry of a deposit-calldata file.
type Calldata struct {
	PubKey   string `json:"pubkey"`
	Calldata string `json:"calldata"`
}

// Artifact is the signed output for one validator, in exactly one of the
// export formats.
type Artifact struct {
	Format   ExportFormat
	Data     *Deposit
	Calldata *Calldata
}

// PubKey returns the validator public key as hex without 0x.
func (a *Artifact) PubKey() string {
	switch {
	case a == nil:
		return ""
	case a.Format == FormatCalldata && a.Calldata != nil:
		return a.Calldata.PubKey
	case a.Data != nil:
		return a.Data.PubKey
	default:
		return ""
	}
}

// Record returns the JSON record written to the aggregate file.
func (a *Artifact) Record() any {
	if a.Format == FormatCalldata {
		return a.Calldata
	}

	return a.Data
}

// NewDeposit builds the launchpad record for signed deposit data.
func NewDeposit(data *ethpb.Deposit_Data, n network.Network) (*Deposit, error) {
	msg := &ethpb.DepositMessage{
		PublicKey:             data.PublicKey,
		WithdrawalCredentials: data.WithdrawalCredentials,
		Amount:                data.Amount,
	}

	msgRoot, err := msg.HashTreeRoot()
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute deposit message root")
	}

	dataRoot, err := data.HashTreeRoot()
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute deposit data root")
	}

	return &Deposit{
		PubKey:                hex.EncodeToString(data.PublicKey),
		WithdrawalCredentials: hex.EncodeToString(data.WithdrawalCredentials),
		Amount:                data.Amount,
		Signature:             hex.EncodeToString(data.Signature),
		DepositMessageRoot:    hex.EncodeToString(msgRoot[:]),
		DepositDataRoot:       hex.EncodeToString(dataRoot[:]),
		NetworkName:           n.Name,
		DepositCliVersion:     depositCliVersion,
		ForkVersion:           n.ForkVersionHex(),
	}, nil
}

// ValueWei returns the transaction value in wei for a deposit of amountGwei.
func ValueWei(amountGwei uint64) string {
	return strconv.FormatUint(amountGwei, 10) + "000000000"
}
