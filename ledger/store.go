/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Interface between the closing engine and the database. Append-only for
  entries; the only permitted update is the accrual payment-date fill.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and the batch runner
  - store/sqlite/sqlite.go: SQLite reference persistence

CONCURRENCY CONTRACT:
  Tickets close in parallel, but postings into one (fund, instrument, date)
  bucket must be serialized so the duplicate guard cannot race. WithBucket
  provides that critical section; implementations back it with a per-bucket
  mutex or a database transaction.
*/
package ledger

import "context"

// Store handles persistence of ledger entries.
// Append-only: no update or delete except SetAccrualPayment.
type Store interface {
	// Append persists one entry. Returns ErrDuplicatePosting if an entry
	// with the same (TicketID, Kind) already exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch persists several entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) error

	// ByTicket returns all entries originated by a ticket.
	ByTicket(ctx context.Context, ticketID string) ([]Entry, error)

	// ByBucket returns all entries in one posting bucket.
	ByBucket(ctx context.Context, b Bucket) ([]Entry, error)

	// Has reports whether the ticket already posted an entry of this kind.
	// This is the idempotency guard.
	Has(ctx context.Context, ticketID string, kind EntryKind) (bool, error)

	// SetAccrualPayment fills the payment date of the ticket's accrual.
	// Fill-once: ErrAccrualClosed if already set, ErrNoAccrual if absent.
	SetAccrualPayment(ctx context.Context, ticketID string, payment Date) error
}

// TxStore extends Store with bucket-level serialization.
type TxStore interface {
	Store

	// WithBucket runs fn while holding exclusive access to the bucket.
	// All posting for one ticket-closing step happens inside.
	WithBucket(ctx context.Context, b Bucket, fn func(Store) error) error
}
