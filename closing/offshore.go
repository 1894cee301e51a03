/*
offshore.go - The offshore-fund closing state machine

Offshore fund tickets have two independent milestone dates: the quotation
date (unit price becomes known) and the settlement date (cash moves). Which
comes first decides the path:

  settlement first:  cash leaves before the price is known. Settlement
                     posts the provision and opens an accrual with no
                     payment date; the quotation leg closes it later.
  quotation first:   the quote resolves quantity immediately. Quotation
                     posts everything, with the accrual bridging to the
                     settlement date; settlement merely finishes the
                     lifecycle.

A missing quote at the quotation date is a steady state, not a fault: the
ticket parks in a quote-info state until the price service records a value,
then posts dated by the recorded date.

Transitions cascade within one Close call: a catch-up run at a late
reference date walks every milestone it has passed, the entry-existence
guard keeping each posting single-shot.
*/
package closing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ticket"
)

func (e *Engine) closeOffshore(ctx context.Context, t *ticket.Ticket, ref ledger.Date) (Result, error) {
	var res Result
	for {
		before := t.State
		if err := e.stepOffshore(ctx, t, ref, &res); err != nil {
			return res, err
		}
		if t.State == before {
			break
		}
	}
	res.FullyClosed = t.Settled()
	return res, nil
}

// stepOffshore applies at most one transition of the state machine.
func (e *Engine) stepOffshore(ctx context.Context, t *ticket.Ticket, ref ledger.Date, res *Result) error {
	switch t.State {
	case ticket.StateNew, ticket.StatePendingQuotationSettlement:
		return e.offshoreInitial(ctx, t, ref, res)

	case ticket.StatePendingQuotation:
		if ref.Before(t.QuotationDate) {
			return nil
		}
		quote, ok := e.Prices.GetQuote(t.Instrument, t.QuotationDate)
		if !ok {
			t.State = ticket.StatePendingQuoteInfo
			return nil
		}
		return e.offshoreQuotationLeg(ctx, t, quote.Price, laterOf(t.QuotationDate, quote.RecordedOn), res)

	case ticket.StatePendingQuoteInfo:
		quote, ok := e.Prices.GetQuote(t.Instrument, t.QuotationDate)
		if !ok {
			return nil
		}
		// Post dated by when the price service recorded the quote.
		return e.offshoreQuotationLeg(ctx, t, quote.Price, laterOf(t.QuotationDate, quote.RecordedOn), res)

	case ticket.StatePendingSettlement:
		if ref.Before(t.SettlementDate) {
			return nil
		}
		if err := e.closeAccrual(ctx, t, t.SettlementDate); err != nil {
			return err
		}
		t.State = ticket.StateDone
		return nil

	case ticket.StatePendingSettlementQuoteInfo:
		return e.offshoreCombined(ctx, t, ref, res)
	}
	return nil
}

// offshoreInitial handles the first milestone from the initial state.
func (e *Engine) offshoreInitial(ctx context.Context, t *ticket.Ticket, ref ledger.Date, res *Result) error {
	net, haveNet := t.NetFinancial()

	if t.SettlementDate.Before(t.QuotationDate) {
		// Cash moves first; the quotation leg stays open.
		if ref.Before(t.SettlementDate) || !haveNet {
			return nil
		}
		if err := e.postProvision(ctx, t, net, t.SettlementDate, res); err != nil {
			return err
		}
		if err := e.postAccrual(ctx, t, net, t.SettlementDate, nil, ledger.AccrualForQuotation, res); err != nil {
			return err
		}
		if t.Managed {
			// Liability mirror exists from settlement, unit price pending.
			if err := e.mirrorLiability(ctx, t, t.SettlementDate, false); err != nil {
				return err
			}
		}
		t.State = ticket.StatePendingQuotation
		return nil
	}

	// Quotation first (or same day).
	if ref.Before(t.QuotationDate) {
		return nil
	}
	quote, ok := e.Prices.GetQuote(t.Instrument, t.QuotationDate)
	if !ok {
		t.State = ticket.StatePendingSettlementQuoteInfo
		return nil
	}
	t.ResolveQuote(quote.Price)
	net, haveNet = t.NetFinancial()
	if !haveNet {
		return nil
	}
	postDate := laterOf(t.QuotationDate, quote.RecordedOn)
	if err := e.postProvision(ctx, t, net, postDate, res); err != nil {
		return err
	}
	payment := t.SettlementDate
	if err := e.postAccrual(ctx, t, net, t.QuotationDate, &payment, ledger.AccrualForSettlement, res); err != nil {
		return err
	}
	if err := e.postQuantity(ctx, t, postDate, res); err != nil {
		return err
	}
	if err := e.postCash(ctx, t, net, postDate, res); err != nil {
		return err
	}
	if t.Managed {
		if err := e.mirrorLiability(ctx, t, postDate, true); err != nil {
			return err
		}
	}
	t.State = ticket.StatePendingSettlement
	return nil
}

// offshoreQuotationLeg finishes a ticket whose cash already moved: the
// quote closes the open accrual and posts quantity and cash dated postDate.
func (e *Engine) offshoreQuotationLeg(ctx context.Context, t *ticket.Ticket, price decimal.Decimal, postDate ledger.Date, res *Result) error {
	t.ResolveQuote(price)
	net, ok := t.NetFinancial()
	if !ok {
		return nil
	}
	if err := e.closeAccrual(ctx, t, postDate); err != nil {
		return err
	}
	if err := e.postQuantity(ctx, t, postDate, res); err != nil {
		return err
	}
	if err := e.postCash(ctx, t, net, postDate, res); err != nil {
		return err
	}
	if t.Managed {
		// Backfills the pending unit price when the mirror already exists.
		if err := e.mirrorLiability(ctx, t, postDate, true); err != nil {
			return err
		}
	}
	t.State = ticket.StateDone
	return nil
}

// offshoreCombined handles the quotation-first path when the quote was
// missing at the quotation date and the settlement leg is still open.
//
// Reaching the settlement date without a quote posts the provision and
// opens the accrual at the settlement date, like the settlement-first path,
// so the scheduled cash movement is never lost. The quote, once recorded,
// finishes quantity and cash dated by the recorded date.
func (e *Engine) offshoreCombined(ctx context.Context, t *ticket.Ticket, ref ledger.Date, res *Result) error {
	quote, haveQuote := e.Prices.GetQuote(t.Instrument, t.QuotationDate)

	if !haveQuote {
		if ref.Before(t.SettlementDate) {
			return nil
		}
		net, haveNet := t.NetFinancial()
		if !haveNet {
			return nil
		}
		if err := e.postProvision(ctx, t, net, t.SettlementDate, res); err != nil {
			return err
		}
		if err := e.postAccrual(ctx, t, net, t.SettlementDate, nil, ledger.AccrualForQuotation, res); err != nil {
			return err
		}
		if t.Managed {
			if err := e.mirrorLiability(ctx, t, t.SettlementDate, false); err != nil {
				return err
			}
		}
		// Stay in this state: the quote leg is still open.
		return nil
	}

	t.ResolveQuote(quote.Price)
	net, ok := t.NetFinancial()
	if !ok {
		return nil
	}
	postDate := laterOf(t.QuotationDate, quote.RecordedOn)

	if err := e.postProvision(ctx, t, net, postDate, res); err != nil {
		return err
	}
	// The accrual may already exist open (posted at settlement above); close
	// it at the post date. Otherwise open it already bridged to settlement.
	hasAccrual, err := e.Ledger.Has(ctx, t.ID, ledger.KindAccrual)
	if err != nil {
		return err
	}
	if hasAccrual {
		if err := e.closeAccrual(ctx, t, postDate); err != nil {
			return err
		}
	} else {
		payment := t.SettlementDate
		if err := e.postAccrual(ctx, t, net, t.QuotationDate, &payment, ledger.AccrualForSettlement, res); err != nil {
			return err
		}
	}
	if err := e.postQuantity(ctx, t, postDate, res); err != nil {
		return err
	}
	if err := e.postCash(ctx, t, net, postDate, res); err != nil {
		return err
	}
	if t.Managed {
		if err := e.mirrorLiability(ctx, t, postDate, true); err != nil {
			return err
		}
	}

	if ref.AfterOrEqual(t.SettlementDate) {
		t.State = ticket.StateDone
	} else {
		t.State = ticket.StatePendingSettlement
	}
	return nil
}
