package deposit

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	ethpb "github.com/prysmaticlabs/prysm/v5/proto/prysm/v1alpha1"
)

// ErrMalformedCalldata is returned when deposit calldata cannot be decoded or
// carries a public key of the wrong size.
var ErrMalformedCalldata = errors.New("malformed deposit calldata")

const pubkeyLength = 48

const depositContractABI = `[{
	"name": "deposit",
	"type": "function",
	"stateMutability": "payable",
	"inputs": [
		{"name": "pubkey", "type": "bytes"},
		{"name": "withdrawal_credentials", "type": "bytes"},
		{"name": "signature", "type": "bytes"},
		{"name": "deposit_data_root", "type": "bytes32"}
	],
	"outputs": []
}]`

var depositABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(depositContractABI))
	if err != nil {
		panic(err)
	}

	return parsed
}()

// CalldataArgs are the decoded arguments of a deposit contract call.
type CalldataArgs struct {
	PubKey                []byte
	WithdrawalCredentials []byte
	Signature             []byte
	DepositDataRoot       [32]byte
}

// DepositData returns the deposit data for the call. Amount is not part of the
// calldata and must be supplied.
func (c *CalldataArgs) DepositData(amountGwei uint64) *ethpb.Deposit_Data {
	return &ethpb.Deposit_Data{
		PublicKey:             c.PubKey,
		WithdrawalCredentials: c.WithdrawalCredentials,
		Amount:                amountGwei,
		Signature:             c.Signature,
	}
}

// EncodeCalldata ABI-encodes a deposit contract call for data.
func EncodeCalldata(data *ethpb.Deposit_Data) ([]byte, error) {
	root, err := data.HashTreeRoot()
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute deposit data root")
	}

	calldata, err := depositABI.Pack("deposit", data.PublicKey, data.WithdrawalCredentials, data.Signature, root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack deposit calldata")
	}

	return calldata, nil
}

// NewCalldata encodes data and wraps it as a deposit-calldata record.
func NewCalldata(data *ethpb.Deposit_Data) (*Calldata, error) {
	raw, err := EncodeCalldata(data)
	if err != nil {
		return nil, err
	}

	cd := &Calldata{Calldata: hexutil.Encode(raw)}
	if err := cd.FillPubKey(); err != nil {
		return nil, err
	}

	return cd, nil
}

// FillPubKey sets PubKey from the encoded call.
func (c *Calldata) FillPubKey() error {
	args, err := DecodeCalldataHex(c.Calldata)
	if err != nil {
		return err
	}

	c.PubKey = hexutil.Encode(args.PubKey)[2:]

	return nil
}

// DecodeCalldataHex decodes 0x-prefixed deposit calldata.
func DecodeCalldataHex(s string) (*CalldataArgs, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedCalldata, "not hex: %v", err)
	}

	return DecodeCalldata(raw)
}

// DecodeCalldata decodes the arguments of a deposit contract call.
func DecodeCalldata(calldata []byte) (*CalldataArgs, error) {
	if len(calldata) < 4 {
		return nil, errors.Wrap(ErrMalformedCalldata, "missing method selector")
	}

	method, err := depositABI.MethodById(calldata[:4])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedCalldata, "unknown method selector %x", calldata[:4])
	}

	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedCalldata, "failed to unpack arguments: %v", err)
	}

	if len(values) != 4 {
		return nil, errors.Wrapf(ErrMalformedCalldata, "expected 4 arguments, got %d", len(values))
	}

	args := &CalldataArgs{}

	var ok bool
	if args.PubKey, ok = values[0].([]byte); !ok {
		return nil, errors.Wrap(ErrMalformedCalldata, "pubkey is not bytes")
	}

	if args.WithdrawalCredentials, ok = values[1].([]byte); !ok {
		return nil, errors.Wrap(ErrMalformedCalldata, "withdrawal credentials are not bytes")
	}

	if args.Signature, ok = values[2].([]byte); !ok {
		return nil, errors.Wrap(ErrMalformedCalldata, "signature is not bytes")
	}

	if args.DepositDataRoot, ok = values[3].([32]byte); !ok {
		return nil, errors.Wrap(ErrMalformedCalldata, "deposit data root is not bytes32")
	}

	if len(args.PubKey) != pubkeyLength {
		return nil, errors.Wrapf(ErrMalformedCalldata, "pubkey is %d bytes, expected %d", len(args.PubKey), pubkeyLength)
	}

	return args, nil
}
