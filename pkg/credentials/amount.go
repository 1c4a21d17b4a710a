package credentials

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/prysmaticlabs/prysm/v5/config/params"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when the amount is not a decimal number.
	ErrInvalidAmount = errors.New("invalid deposit amount")
	// ErrAmountOutOfRange is returned when the amount is outside the allowed bounds.
	ErrAmountOutOfRange = errors.New("deposit amount out of range")
	// ErrTooManyDecimals is returned when the amount has more fractional digits than allowed.
	ErrTooManyDecimals = errors.New("deposit amount has too many decimal places")
)

// AmountBounds constrains deposit amounts expressed in ETH.
type AmountBounds struct {
	Min              decimal.Decimal
	Max              decimal.Decimal
	Default          decimal.Decimal
	MaxDecimalPlaces int32
}

// DefaultAmountBounds are the bounds used by the deposit workflow.
var DefaultAmountBounds = AmountBounds{
	Min:              decimal.NewFromInt(1),
	Max:              decimal.NewFromInt(64),
	Default:          decimal.NewFromInt(32),
	MaxDecimalPlaces: 9,
}

// Amount is a validated deposit amount.
type Amount struct {
	ETH  decimal.Decimal
	Gwei uint64
	// NeedsConfirmation is set for in-bounds amounts that differ from the
	// default. The caller must get explicit user approval before using them.
	NeedsConfirmation bool
}

// ValidateDepositAmountEth parses a decimal ETH amount and checks it against
// bounds. The default amount skips the bounds check but not the precision check.
func ValidateDepositAmountEth(amount string, bounds AmountBounds) (Amount, error) {
	eth, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "%q", amount)
	}

	if !eth.Shift(bounds.MaxDecimalPlaces).IsInteger() {
		return Amount{}, errors.Wrapf(ErrTooManyDecimals, "%s allows at most %d", eth, bounds.MaxDecimalPlaces)
	}

	gwei := eth.Mul(decimal.NewFromInt(int64(params.BeaconConfig().GweiPerEth)))
	if !gwei.IsInteger() {
		return Amount{}, errors.Wrapf(ErrTooManyDecimals, "%s is not a whole number of gwei", eth)
	}

	if eth.Equal(bounds.Default) {
		return Amount{ETH: eth, Gwei: gwei.BigInt().Uint64()}, nil
	}

	if eth.LessThan(bounds.Min) || eth.GreaterThan(bounds.Max) {
		return Amount{}, errors.Wrapf(ErrAmountOutOfRange, "%s not within [%s, %s]", eth, bounds.Min, bounds.Max)
	}

	return Amount{ETH: eth, Gwei: gwei.BigInt().Uint64(), NeedsConfirmation: true}, nil
}

// DefaultAmount returns the bounds' default amount, which never needs confirmation.
func (b AmountBounds) DefaultAmount() Amount {
	gwei := b.Default.Mul(decimal.NewFromInt(int64(params.BeaconConfig().GweiPerEth)))

	return Amount{ETH: b.Default, Gwei: gwei.BigInt().Uint64()}
}
