package banano

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// RawExponent is the power of ten between one BAN and one raw.
const RawExponent = 29

var (
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrAmountPrecision = errors.New("amount is finer than one raw")
	ErrAmountOverflow  = errors.New("amount overflows 256 bits")
)

// ToRaw converts a BAN amount to raw. The conversion is exact: amounts that
// would need rounding are rejected instead.
func ToRaw(ban decimal.Decimal) (*uint256.Int, error) {
	if ban.IsNegative() {
		return nil, ErrNegativeAmount
	}
	raw := ban.Shift(RawExponent)
	if !raw.Equal(raw.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s", ErrAmountPrecision, ban.String())
	}
	value, overflow := uint256.FromBig(raw.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, ban.String())
	}
	return value, nil
}

// FromRaw converts raw back to BAN without loss.
func FromRaw(raw *uint256.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw.ToBig(), -RawExponent)
}

// ParseRaw parses the decimal raw strings returned by the node.
func ParseRaw(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	value, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse raw amount %q: %w", s, err)
	}
	return value, nil
}
