// Package money implements the arbitrary-precision amount arithmetic
// required by the payment pipeline: amounts are carried as decimals end to
// end and only converted to integer minor units at the edge, with the
// rounding mode explicit per currency.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits describes how a currency's decimal amount maps to the integer
// units a chain transfer actually moves.
type MinorUnits struct {
	// Decimals is the number of fractional digits the minor unit represents
	// (e.g. 6 for USDC).
	Decimals int32
	// Round is the rounding mode applied when converting to minor units.
	Round RoundingMode
}

// RoundingMode enumerates the rounding behaviors this package supports.
type RoundingMode int

const (
	// RoundHalfUp rounds 0.5 away from zero, the mode mandated for USDC.
	RoundHalfUp RoundingMode = iota
)

// knownCurrencies maps a currency code to its minor-unit convention.
// USDC's 6-decimal convention is registered by default; additional
// currencies can be registered by callers via RegisterCurrency.
var knownCurrencies = map[string]MinorUnits{
	"USDC": {Decimals: 6, Round: RoundHalfUp},
}

// RegisterCurrency adds or overrides a currency's minor-unit convention.
func RegisterCurrency(code string, units MinorUnits) {
	knownCurrencies[code] = units
}

// ToMinorUnits converts a decimal amount string (e.g. "0.01") into the
// integer minor-unit representation for currency, applying the registered
// rounding mode. Returns an error if the currency is unknown or the amount
// does not parse.
func ToMinorUnits(amount string, currency string) (int64, error) {
	units, ok := knownCurrencies[currency]
	if !ok {
		return 0, fmt.Errorf("money: unknown currency %q", currency)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", amount, err)
	}
	scaled := d.Shift(units.Decimals)
	switch units.Round {
	case RoundHalfUp:
		return scaled.Round(0).IntPart(), nil
	default:
		return scaled.Round(0).IntPart(), nil
	}
}

// IsPositive reports whether amount parses as a decimal strictly greater
// than zero. Used to enforce the "amount > 0" validation invariant.
func IsPositive(amount string) bool {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return false
	}
	return d.IsPositive()
}

// Compare parses both amounts as decimals and returns -1, 0 or 1 the way
// decimal.Decimal.Cmp does. A parse failure on either side returns an error.
func Compare(a, b string) (int, error) {
	da, err := decimal.NewFromString(a)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", a, err)
	}
	db, err := decimal.NewFromString(b)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", b, err)
	}
	return da.Cmp(db), nil
}
