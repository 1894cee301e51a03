/*
ledger.go - Append-only posting log

PURPOSE:
  The Ledger is the source of truth for every side effect a ticket closing
  produces. Quantity, cash, accrual and provision entries are recorded here
  and never rewritten; re-closing a ticket can only add entries it has not
  posted yet, or fill an accrual's payment date.

INVARIANTS:
  1. APPEND-ONLY: no update, no delete (accrual payment date is fill-once)
  2. AT MOST ONE ENTRY PER (TICKET, KIND)
  3. DUPLICATE POSTING IS NOT A FAULT: the guard result is logged and the
     closing proceeds as already-done

SEE ALSO:
  - store.go: persistence interface
  - closing/engine.go: the only writer
*/
package ledger

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// =============================================================================
// LEDGER - Posting with the duplicate guard
// =============================================================================

type Ledger struct {
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, log: log}
}

// Post appends an entry unless the ticket already posted one of this kind.
// Returns (false, nil) when the duplicate guard fired; the caller treats
// that as already-done.
func (l *Ledger) Post(ctx context.Context, e Entry) (bool, error) {
	exists, err := l.store.Has(ctx, e.TicketID, e.Kind)
	if err != nil {
		return false, err
	}
	if exists {
		l.observeDuplicate(e)
		return false, nil
	}
	err = l.store.Append(ctx, e)
	if errors.Is(err, ErrDuplicatePosting) {
		// Lost a race inside the bucket lock window; same outcome.
		l.observeDuplicate(e)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CloseAccrual fills the payment date on the ticket's accrual entry.
// Returns (false, nil) when the accrual is already closed.
func (l *Ledger) CloseAccrual(ctx context.Context, ticketID string, payment Date) (bool, error) {
	err := l.store.SetAccrualPayment(ctx, ticketID, payment)
	if errors.Is(err, ErrAccrualClosed) {
		l.log.Debug().
			Str("ticket_id", ticketID).
			Stringer("payment_date", payment).
			Msg("accrual already closed")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Has reports whether the ticket already posted an entry of this kind.
func (l *Ledger) Has(ctx context.Context, ticketID string, kind EntryKind) (bool, error) {
	return l.store.Has(ctx, ticketID, kind)
}

// ByTicket returns every entry a ticket has produced.
func (l *Ledger) ByTicket(ctx context.Context, ticketID string) ([]Entry, error) {
	return l.store.ByTicket(ctx, ticketID)
}

// Accrual returns the ticket's accrual entry, if any.
func (l *Ledger) Accrual(ctx context.Context, ticketID string) (Entry, bool, error) {
	entries, err := l.store.ByTicket(ctx, ticketID)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Kind == KindAccrual {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// WithBucket serializes fn against the posting bucket when the store
// supports it, and degrades to a plain call when it does not.
func (l *Ledger) WithBucket(ctx context.Context, b Bucket, fn func() error) error {
	if tx, ok := l.store.(TxStore); ok {
		return tx.WithBucket(ctx, b, func(Store) error { return fn() })
	}
	return fn()
}

func (l *Ledger) observeDuplicate(e Entry) {
	l.log.Info().
		Str("ticket_id", e.TicketID).
		Str("kind", string(e.Kind)).
		Str("fund", e.Fund).
		Str("instrument", e.Instrument).
		Stringer("date", e.Date).
		Msg("duplicate posting prevented")
}
