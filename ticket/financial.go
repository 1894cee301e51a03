/*
financial.go - Financial-amount resolution

PURPOSE:
  The financial amount of a ticket is computed exactly once, from
  price x quantity when both are known at creation or first closing.
  When the price pends a future quote, the amount is supplied directly
  and quantity is back-solved (quantity = financial / quote) once the
  quote appears.

SIGN CONVENTION:
  The financial amount is signed by the quantity, hence by operation
  polarity: positive for buys/subscriptions, negative for
  sells/redemptions. Costs always reduce the economics of the operation,
  so NetFinancial adds unsigned costs toward zero for disposals and away
  from zero for acquisitions.
*/
package ticket

import (
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// FinancialAmount returns the ticket's financial amount, resolving and
// caching it from price x quantity on first call when both are known.
// ok is false while neither the pair nor a direct amount is available.
func (t *Ticket) FinancialAmount() (amount decimal.Decimal, ok bool) {
	if t.Financial != nil {
		return *t.Financial, true
	}
	if t.Price != nil && t.Quantity != nil {
		f := t.Price.Mul(*t.Quantity)
		t.Financial = &f
		return f, true
	}
	return decimal.Zero, false
}

// NetFinancial is the financial amount plus transaction costs, the value a
// single closing must net to across its cash, accrual and provision legs.
func (t *Ticket) NetFinancial() (decimal.Decimal, bool) {
	f, ok := t.FinancialAmount()
	if !ok {
		return decimal.Zero, false
	}
	return f.Add(t.Costs), true
}

// ResolveQuote fills price (and quantity, when pending) from a quote.
// quantity = financial / quote at unit precision, signed by polarity.
// No-op when the ticket is already fully resolved.
func (t *Ticket) ResolveQuote(quote decimal.Decimal) {
	if t.Price == nil {
		p := quote
		t.Price = &p
	}
	if t.Quantity == nil && t.Financial != nil && !quote.IsZero() {
		q := ledger.RoundUnits(t.Financial.Div(quote))
		t.Quantity = &q
		t.normalizeQuantitySign()
	}
	// Cache the amount if the quote just completed the pair.
	t.FinancialAmount()
}

// Resolved reports whether both price and quantity are known.
func (t *Ticket) Resolved() bool {
	return t.Price != nil && t.Quantity != nil
}
