/*
generic.go - Closers for the non-offshore ticket variants

Equity, fixed income and loan tickets close synchronously and atomically:
quantity, cash, accrual (trade date -> settlement date) and provision in one
step. Local-fund tickets need the fund's quote; without it the engine posts
only the accrual/provision pair and completes later, mirroring the offshore
partial-closing pattern with just two phases.
*/
package closing

import (
	"context"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ticket"
)

// closeGeneric handles equity, local/offshore fixed income and loans.
func (e *Engine) closeGeneric(ctx context.Context, t *ticket.Ticket, ref ledger.Date) (Result, error) {
	var res Result
	if ref.Before(t.TradeDate) {
		return res, nil
	}

	net, ok := t.NetFinancial()
	if !ok {
		// Price or quantity never supplied; nothing determinable yet.
		return res, nil
	}

	if err := e.postQuantity(ctx, t, ref, &res); err != nil {
		return res, err
	}
	if err := e.postCash(ctx, t, net, ref, &res); err != nil {
		return res, err
	}
	payment := e.genericAccrualEnd(t)
	if err := e.postAccrual(ctx, t, net, t.TradeDate, &payment, ledger.AccrualGeneric, &res); err != nil {
		return res, err
	}
	if err := e.postProvision(ctx, t, net, ref, &res); err != nil {
		return res, err
	}

	t.State = ticket.StateDone
	res.FullyClosed = true
	return res, nil
}

// genericAccrualEnd picks the accrual payment date. Reversible loans stop
// accruing at the early buy-back date; everything else runs to settlement.
func (e *Engine) genericAccrualEnd(t *ticket.Ticket) ledger.Date {
	if t.Kind == ticket.Loan && t.Reversible && t.ReversalDate != nil {
		return *t.ReversalDate
	}
	return t.SettlementDate
}

// closeLocalFund is the two-phase fund closer: accrual and provision post as
// soon as the ticket is due, quantity and cash wait for the quote.
func (e *Engine) closeLocalFund(ctx context.Context, t *ticket.Ticket, ref ledger.Date) (Result, error) {
	var res Result
	if ref.Before(t.TradeDate) {
		return res, nil
	}

	// Phase 1: the bridge. Payment date is the settlement date, known up
	// front; the amount may come straight from the ticket when the quote
	// still pends.
	net, haveNet := t.NetFinancial()
	if haveNet {
		payment := t.SettlementDate
		if err := e.postAccrual(ctx, t, net, t.QuotationDate, &payment, ledger.AccrualForQuotation, &res); err != nil {
			return res, err
		}
		if err := e.postProvision(ctx, t, net, ref, &res); err != nil {
			return res, err
		}
	}

	// Phase 2: quantity and cash once the quote exists.
	quote, haveQuote := e.Prices.GetQuote(t.Instrument, t.QuotationDate)
	if !haveQuote {
		return res, nil
	}
	t.ResolveQuote(quote.Price)
	net, ok := t.NetFinancial()
	if !ok {
		return res, nil
	}

	postDate := laterOf(t.QuotationDate, quote.RecordedOn)
	if err := e.postQuantity(ctx, t, postDate, &res); err != nil {
		return res, err
	}
	if err := e.postCash(ctx, t, net, postDate, &res); err != nil {
		return res, err
	}
	if !haveNet {
		// The bridge was not determinable before the quote; post it now.
		payment := t.SettlementDate
		if err := e.postAccrual(ctx, t, net, t.QuotationDate, &payment, ledger.AccrualForQuotation, &res); err != nil {
			return res, err
		}
		if err := e.postProvision(ctx, t, net, ref, &res); err != nil {
			return res, err
		}
	}

	if t.Managed {
		if err := e.mirrorLiability(ctx, t, postDate, true); err != nil {
			return res, err
		}
	}

	t.State = ticket.StateDone
	res.FullyClosed = true
	return res, nil
}
