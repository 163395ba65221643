package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	t.Run("USDC converts at 6 decimals", func(t *testing.T) {
		units, err := ToMinorUnits("0.01", "USDC")
		require.NoError(t, err)
		assert.Equal(t, int64(10000), units)
	})

	t.Run("exact boundary amount", func(t *testing.T) {
		units, err := ToMinorUnits("1.000005", "USDC")
		require.NoError(t, err)
		assert.Equal(t, int64(1000005), units)
	})

	t.Run("half rounds away from zero", func(t *testing.T) {
		units, err := ToMinorUnits("0.0000005", "USDC")
		require.NoError(t, err)
		assert.Equal(t, int64(1), units)
	})

	t.Run("unknown currency errors", func(t *testing.T) {
		_, err := ToMinorUnits("1.00", "DOGE")
		assert.Error(t, err)
	})

	t.Run("registered currency is honored", func(t *testing.T) {
		RegisterCurrency("TESTC", MinorUnits{Decimals: 2, Round: RoundHalfUp})
		units, err := ToMinorUnits("1.005", "TESTC")
		require.NoError(t, err)
		assert.Equal(t, int64(101), units)
	})
}

func TestIsPositive(t *testing.T) {
	assert.True(t, IsPositive("0.01"))
	assert.False(t, IsPositive("0"))
	assert.False(t, IsPositive("-1"))
	assert.False(t, IsPositive("not-a-number"))
}

func TestCompare(t *testing.T) {
	cmp, err := Compare("1.00", "1.00")
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	cmp, err = Compare("1.01", "1.00")
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	_, err = Compare("bad", "1.00")
	assert.Error(t, err)
}
