package credentials

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

const eth1AddressLength = 42

// ErrInvalidAddress is returned for strings that are not 0x-prefixed 20 byte hex addresses.
var ErrInvalidAddress = errors.New("invalid ETH1 address")

// CanonicalEth1Address returns the lowercase form of a user supplied address.
func CanonicalEth1Address(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateEth1Address reports whether s starts with 0x, is 42 characters long
// and the remaining 40 characters are hex.
func ValidateEth1Address(s string) bool {
	if len(s) != eth1AddressLength || !strings.HasPrefix(s, "0x") {
		return false
	}

	_, err := hexutil.Decode(s)

	return err == nil
}

// ParseEth1Address canonicalises and validates s.
func ParseEth1Address(s string) (common.Address, error) {
	canonical := CanonicalEth1Address(s)
	if !ValidateEth1Address(canonical) {
		return common.Address{}, errors.Wrapf(ErrInvalidAddress, "%q", s)
	}

	return common.HexToAddress(canonical), nil
}
