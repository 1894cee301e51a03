/*
clean.go - Field validation and normalization

PURPOSE:
  Every ticket passes Clean before the closing engine sees it. Cleaning is
  asymmetric on purpose (mirrors the back-office rules):

    quantity sign   - auto-corrected to match operation polarity, never an error
    financial sign  - same auto-correct when the amount is supplied directly
    negative price  - hard validation error
    date ordering   - settlement must not precede trade, hard error
    loan reversal   - reversal date only with reversibility, strictly after
                      trade date

  Validation failures surface before anything is persisted; a ticket that
  fails Clean never reaches the ledger.
*/
package ticket

import (
	"github.com/warp/settlement-engine/ledger"
)

// Clean validates and normalizes the ticket in place.
// Returns an *ledger.InvalidFieldError on hard violations.
func (t *Ticket) Clean() error {
	if t.Op.Polarity() == 0 {
		return &ledger.InvalidFieldError{Field: "operation", Reason: "unknown operation kind"}
	}

	t.normalizeQuantitySign()
	t.normalizeFinancialSign()

	if t.Price != nil && t.Price.IsNegative() {
		return &ledger.InvalidFieldError{Field: "price", Reason: "must not be negative"}
	}

	if t.SettlementDate.Before(t.TradeDate) {
		return &ledger.InvalidFieldError{Field: "settlement_date", Reason: "precedes trade date"}
	}

	if t.Kind == Loan {
		if err := t.cleanReversalTerms(); err != nil {
			return err
		}
	}

	return nil
}

// normalizeQuantitySign flips the quantity sign to the operation polarity.
// Auto-correction, never an error.
func (t *Ticket) normalizeQuantitySign() {
	if t.Quantity == nil || t.Quantity.IsZero() {
		return
	}
	positive := t.Op.Polarity() > 0
	if t.Quantity.IsPositive() != positive {
		q := t.Quantity.Neg()
		t.Quantity = &q
	}
}

// normalizeFinancialSign flips a directly supplied financial amount to the
// operation polarity. Without this a redemption entered with an unsigned
// amount would back-solve a negative quantity yet post positive cash.
func (t *Ticket) normalizeFinancialSign() {
	if t.Financial == nil || t.Financial.IsZero() {
		return
	}
	positive := t.Op.Polarity() > 0
	if t.Financial.IsPositive() != positive {
		f := t.Financial.Neg()
		t.Financial = &f
	}
}

func (t *Ticket) cleanReversalTerms() error {
	if t.Reversible {
		if t.ReversalDate == nil {
			return &ledger.InvalidFieldError{Field: "reversal_date", Reason: "required when reversible"}
		}
		if !t.ReversalDate.After(t.TradeDate) {
			return &ledger.InvalidFieldError{Field: "reversal_date", Reason: "must be strictly after trade date"}
		}
		return nil
	}
	if t.ReversalDate != nil {
		return &ledger.InvalidFieldError{Field: "reversal_date", Reason: "supplied without reversibility"}
	}
	return nil
}
