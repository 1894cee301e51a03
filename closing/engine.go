/*
Package closing implements the ticket closing engine.

PURPOSE:
  Close(ticket, referenceDate) evaluates a ticket against a reference date
  and posts whatever ledger effects are now determinable: quantity and cash
  entries, the CPR accrual bridging two dates, the cash provision, and -
  for managed pooled instruments - the mirrored liability ticket with its
  FIFO certificate consumption.

POSTING CONVENTION:
  net = financial amount + costs, signed by operation polarity.
    Provision: -net   (the scheduled bank movement, due settlement date)
    Accrual:   +net   (inverse of the provision leg, bridging the gap)
    Cash:      +net   (posted once the position is recognized)
    Quantity:  signed units
  While a closing is partial, its entries sum to zero; once complete they
  net to the ticket's economic flow exactly once. Amounts are rounded only
  here, at the point of posting (2dp cash, 6dp units).

IDEMPOTENCY:
  Re-closing never duplicates: every posting goes through the ledger's
  entry-existence guard, and the accrual payment date is fill-once. Calling
  Close with a reference date short of the next milestone is a no-op.

SEE ALSO:
  - generic.go:  equity/fixed-income/loan and local-fund closers
  - offshore.go: the offshore-fund state machine
  - run.go:      parallel batch closing runs
*/
package closing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/liability"
	"github.com/warp/settlement-engine/marketdata"
	"github.com/warp/settlement-engine/ticket"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Ledger   *ledger.Ledger
	Prices   marketdata.PriceService
	Calendar marketdata.CalendarService
	Lots     *liability.Tracker
	Book     TicketBook
	Log      zerolog.Logger
}

// Result is the outcome of one closing attempt.
type Result struct {
	FullyClosed bool
	Posted      []ledger.Entry
}

// Close evaluates the ticket at the reference date and posts the applicable
// side effects. Incompleteness (e.g. a missing quote) is a partial result,
// not an error.
func (e *Engine) Close(ctx context.Context, t *ticket.Ticket, ref ledger.Date) (Result, error) {
	if t.Settled() {
		return Result{FullyClosed: true}, nil
	}
	if err := t.Clean(); err != nil {
		return Result{}, err
	}

	var res Result
	var err error
	bucket := ledger.Bucket{Fund: t.Fund, Instrument: t.Instrument, Date: ref}
	lockErr := e.Ledger.WithBucket(ctx, bucket, func() error {
		switch t.Kind {
		case ticket.OffshoreFund:
			res, err = e.closeOffshore(ctx, t, ref)
		case ticket.LocalFund:
			res, err = e.closeLocalFund(ctx, t, ref)
		case ticket.Liability:
			res, err = e.closeLiability(ctx, t, ref)
		default:
			res, err = e.closeGeneric(ctx, t, ref)
		}
		return err
	})
	if lockErr != nil {
		return res, lockErr
	}
	return res, err
}

// =============================================================================
// POSTING HELPERS - rounding applied exactly once, here
// =============================================================================

func (e *Engine) postQuantity(ctx context.Context, t *ticket.Ticket, date ledger.Date, res *Result) error {
	if t.Quantity == nil {
		return fmt.Errorf("ticket %s: quantity not resolved", t.ID)
	}
	return e.post(ctx, res, ledger.Entry{
		ID:         uuid.NewString(),
		TicketID:   t.ID,
		Kind:       ledger.KindQuantity,
		Fund:       t.Fund,
		Instrument: t.Instrument,
		Date:       date,
		Amount:     ledger.RoundUnits(*t.Quantity),
		CreatedAt:  time.Now().UTC(),
	})
}

func (e *Engine) postCash(ctx context.Context, t *ticket.Ticket, net decimal.Decimal, date ledger.Date, res *Result) error {
	return e.post(ctx, res, ledger.Entry{
		ID:         uuid.NewString(),
		TicketID:   t.ID,
		Kind:       ledger.KindCash,
		Fund:       t.Fund,
		Instrument: t.Instrument,
		Date:       date,
		Amount:     ledger.RoundCash(net),
		CreatedAt:  time.Now().UTC(),
	})
}

func (e *Engine) postProvision(ctx context.Context, t *ticket.Ticket, net decimal.Decimal, date ledger.Date, res *Result) error {
	return e.post(ctx, res, ledger.Entry{
		ID:          uuid.NewString(),
		TicketID:    t.ID,
		Kind:        ledger.KindProvision,
		Fund:        t.Fund,
		Instrument:  t.Instrument,
		Date:        date,
		Amount:      ledger.RoundCash(net.Neg()),
		CashAccount: t.CashAccount,
		DueDate:     t.SettlementDate,
		CreatedAt:   time.Now().UTC(),
	})
}

func (e *Engine) postAccrual(ctx context.Context, t *ticket.Ticket, net decimal.Decimal, start ledger.Date, payment *ledger.Date, typ ledger.AccrualType, res *Result) error {
	entry := ledger.Entry{
		ID:             uuid.NewString(),
		TicketID:       t.ID,
		Kind:           ledger.KindAccrual,
		Fund:           t.Fund,
		Instrument:     t.Instrument,
		Date:           start,
		Amount:         ledger.RoundCash(net),
		AccrualType:    typ,
		Capitalization: t.Capitalization,
		StartDate:      start,
		CreatedAt:      time.Now().UTC(),
	}
	if payment != nil {
		p := *payment
		entry.PaymentDate = &p
	}
	return e.post(ctx, res, entry)
}

func (e *Engine) post(ctx context.Context, res *Result, entry ledger.Entry) error {
	posted, err := e.Ledger.Post(ctx, entry)
	if err != nil {
		return err
	}
	if posted {
		res.Posted = append(res.Posted, entry)
	}
	return nil
}

// closeAccrual fills the accrual payment date, tolerating already-closed.
func (e *Engine) closeAccrual(ctx context.Context, t *ticket.Ticket, payment ledger.Date) error {
	_, err := e.Ledger.CloseAccrual(ctx, t.ID, payment)
	return err
}

// =============================================================================
// ACCRUAL VALUATION
// =============================================================================

// AccruedValueAt values a ticket's accrual at a date. Daily capitalization
// compounds per business day on the instrument's calendar; monthly per whole
// month. A closed accrual stops growing at its payment date. ok is false
// when the ticket has no accrual entry yet.
func (e *Engine) AccruedValueAt(ctx context.Context, t *ticket.Ticket, at ledger.Date) (decimal.Decimal, bool, error) {
	acc, ok, err := e.Ledger.Accrual(ctx, t.ID)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	start, end := acc.AccrualWindow(at)
	if end.BeforeOrEqual(start) {
		return acc.Amount, true, nil
	}
	switch acc.Capitalization {
	case ledger.CapDaily:
		periods := e.Calendar.BusinessDaysBetween(start, end, t.Instrument)
		return ledger.Compound(acc.Amount, t.Rate, periods), true, nil
	case ledger.CapMonthly:
		return ledger.Compound(acc.Amount, t.Rate, start.MonthsBetween(end)), true, nil
	default:
		return acc.Amount, true, nil
	}
}

// laterOf is the posting date for quote-driven entries: never before the
// quotation date, never before the quote was actually recorded.
func laterOf(a, b ledger.Date) ledger.Date {
	if a.After(b) {
		return a
	}
	return b
}
