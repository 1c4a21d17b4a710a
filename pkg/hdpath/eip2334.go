package hdpath

import "github.com/pkg/errors"

// EIP-2334 layout: m / purpose / coin_type / account / use [/ validator key]
// https://eips.ethereum.org/EIPS/eip-2334
const (
	BLSPurpose      uint32 = 12381
	eip2334CoinType uint32 = 3600

	// ValidatorSlot is the position of the per-validator account index in an
	// EIP-2334 path.
	ValidatorSlot = 2
)

// Default paths per key scheme.
var (
	DefaultSigningPath   = MustParse("m/12381/3600/0/0/0")
	DefaultSecp256k1Path = MustParse("m/44'/60'/0'/0/0")
	DefaultEd25519Path   = MustParse("m/44'/501'/0'/0'")
)

// SigningPath returns the EIP-2334 validator signing key path for index.
func SigningPath(index uint32) Path {
	p, _ := DefaultSigningPath.WithIndexAt(ValidatorSlot, index)

	return p
}

// WithdrawalPath returns the EIP-2334 withdrawal key path for index.
func WithdrawalPath(index uint32) Path {
	return New(BLSPurpose, eip2334CoinType, index, 0)
}

// ValidatorIndex returns the account index in the validator slot.
func (p Path) ValidatorIndex() (uint32, error) {
	return p.At(ValidatorSlot)
}

// NextValidator returns the path for the following validator, bumping only the
// validator slot. The slot never becomes hardened.
func (p Path) NextValidator() (Path, error) {
	index, err := p.ValidatorIndex()
	if err != nil {
		return Path{}, err
	}

	if index >= HardenedOffset-1 {
		return Path{}, errors.Wrapf(ErrIndexOutOfRange, "no validator index after %s", p)
	}

	return p.WithIndexAt(ValidatorSlot, index+1)
}
