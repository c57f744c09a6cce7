package banano

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToRawExact(t *testing.T) {
	raw, err := ToRaw(decimal.RequireFromString("0.87"))
	require.NoError(t, err)
	require.Equal(t, "87000000000000000000000000000", raw.Dec())

	raw, err = ToRaw(decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Equal(t, "100000000000000000000000000000", raw.Dec())

	raw, err = ToRaw(decimal.Zero)
	require.NoError(t, err)
	require.True(t, raw.IsZero())
}

func TestToRawRejects(t *testing.T) {
	_, err := ToRaw(decimal.RequireFromString("-1"))
	require.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ToRaw(decimal.RequireFromString("0.000000000000000000000000000001"))
	require.ErrorIs(t, err, ErrAmountPrecision)

	_, err = ToRaw(decimal.New(1, 60))
	require.ErrorIs(t, err, ErrAmountOverflow)
}

func TestFromRawRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "0.01", "0.87", "1.5", "1234.56"} {
		amount := decimal.RequireFromString(s)
		raw, err := ToRaw(amount)
		require.NoError(t, err)
		require.True(t, amount.Equal(FromRaw(raw)), s)
	}
	require.True(t, FromRaw(nil).IsZero())
}

func TestParseRaw(t *testing.T) {
	raw, err := ParseRaw("1500000000000000000000000000000")
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("15").Equal(FromRaw(raw)))

	raw, err = ParseRaw("")
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int), raw)

	_, err = ParseRaw("12ab")
	require.Error(t, err)
}
