/*
amount.go - Monetary and unit-quantity arithmetic

PURPOSE:
  All amounts in the engine are decimal.Decimal. Intermediate calculations
  keep full precision; rounding happens exactly once, at the point an amount
  is posted to the ledger.

PRECISION CONVENTIONS:
  Cash amounts:     2 decimal places, round half up
  Unit quantities:  6 decimal places, round half up

  These match settlement statements. Rounding mid-calculation would let
  sub-cent drift accumulate across the accrual/provision/cash legs of a
  ticket, breaking the conservation invariant.

SEE ALSO:
  - entry.go: where rounding is applied on posting
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

const (
	// CashPlaces is the posting precision for cash, accrual and provision amounts.
	CashPlaces int32 = 2
	// UnitPlaces is the posting precision for unit quantities.
	UnitPlaces int32 = 6
)

// RoundCash rounds a monetary amount to cash precision, half up.
func RoundCash(d decimal.Decimal) decimal.Decimal {
	return d.Round(CashPlaces)
}

// RoundUnits rounds a unit quantity to quantity precision, half up.
func RoundUnits(d decimal.Decimal) decimal.Decimal {
	return d.Round(UnitPlaces)
}

// MustDecimal parses a decimal literal. Panics on malformed input; intended
// for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Compound grows principal at rate over n periods: principal * (1+rate)^n.
// Full precision; callers round on posting.
func Compound(principal, rate decimal.Decimal, periods int) decimal.Decimal {
	if periods <= 0 || rate.IsZero() {
		return principal
	}
	factor := decimal.NewFromInt(1).Add(rate).Pow(decimal.NewFromInt(int64(periods)))
	return principal.Mul(factor)
}
