/*
Package sqlite provides the SQLite-backed implementation of the ledger
store and ticket book.

PURPOSE:
  Reference persistence for entries and tickets. The same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE on the entries table, with one exception: the
  accrual payment-date fill, constrained to rows where it is still NULL.
  A unique index on (ticket_id, kind) backs the duplicate-posting guard
  at the database level.

CONCURRENCY:
  WAL mode plus a per-bucket mutex for WithBucket. Postings into distinct
  (fund, instrument, date) buckets proceed in parallel.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ticket"
)

// Store implements ledger.TxStore plus persistent ticket storage.
type Store struct {
	db *sql.DB
	mu sync.Mutex // single writer; SQLite serializes writes anyway

	bucketMu sync.Mutex
	buckets  map[ledger.Bucket]*sync.Mutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, buckets: make(map[ledger.Bucket]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only; the payment-date fill is the only update)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		ticket_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		fund TEXT NOT NULL,
		instrument TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		accrual_type TEXT NOT NULL DEFAULT '',
		capitalization TEXT NOT NULL DEFAULT '',
		start_date TEXT,
		payment_date TEXT,
		cash_account TEXT NOT NULL DEFAULT '',
		due_date TEXT,
		created_at TEXT NOT NULL
	);

	-- The duplicate-posting guard, enforced at the database level too.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_ticket_kind
		ON entries(ticket_id, kind);
	CREATE INDEX IF NOT EXISTS idx_entries_bucket
		ON entries(fund, instrument, entry_date);

	-- Tickets: lifecycle state and quote-resolved fields do get updated
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		op TEXT NOT NULL,
		fund TEXT NOT NULL,
		instrument TEXT NOT NULL,
		cash_account TEXT NOT NULL,
		holder TEXT NOT NULL DEFAULT '',
		trade_date TEXT NOT NULL,
		settlement_date TEXT NOT NULL,
		quotation_date TEXT,
		quantity TEXT,
		price TEXT,
		financial TEXT,
		costs TEXT NOT NULL DEFAULT '0',
		rate TEXT NOT NULL DEFAULT '0',
		capitalization TEXT NOT NULL DEFAULT 'none',
		managed INTEGER NOT NULL DEFAULT 0,
		reversible INTEGER NOT NULL DEFAULT 0,
		reversal_date TEXT,
		parent_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_parent ON tickets(parent_id);
	CREATE INDEX IF NOT EXISTS idx_tickets_state ON tickets(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func (s *Store) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := appendEntry(ctx, tx, e); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendEntry(ctx context.Context, db execer, e ledger.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO entries (id, ticket_id, kind, fund, instrument, entry_date,
			amount, accrual_type, capitalization, start_date, payment_date,
			cash_account, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TicketID, string(e.Kind), e.Fund, e.Instrument, e.Date.String(),
		e.Amount.String(), string(e.AccrualType), string(e.Capitalization),
		nullDate(e.StartDate), nullDatePtr(e.PaymentDate),
		e.CashAccount, nullDate(e.DueDate),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	// The unique (ticket_id, kind) index is the posting guard; the primary
	// key raises a distinct extended code and passes through unchanged.
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ledger.ErrDuplicatePosting
	}
	return err
}

func (s *Store) ByTicket(ctx context.Context, ticketID string) ([]ledger.Entry, error) {
	return s.queryEntries(ctx, `ticket_id = ?`, ticketID)
}

func (s *Store) ByBucket(ctx context.Context, b ledger.Bucket) ([]ledger.Entry, error) {
	return s.queryEntries(ctx, `fund = ? AND instrument = ? AND entry_date = ?`,
		b.Fund, b.Instrument, b.Date.String())
}

func (s *Store) Has(ctx context.Context, ticketID string, kind ledger.EntryKind) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM entries WHERE ticket_id = ? AND kind = ?`,
		ticketID, string(kind)).Scan(&n)
	return n > 0, err
}

// SetAccrualPayment fills the accrual payment date, once. The WHERE clause
// on payment_date IS NULL is what makes the fill idempotent under races.
func (s *Store) SetAccrualPayment(ctx context.Context, ticketID string, payment ledger.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET payment_date = ?
		WHERE ticket_id = ? AND kind = ? AND payment_date IS NULL`,
		payment.String(), ticketID, string(ledger.KindAccrual))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		has, err := s.Has(ctx, ticketID, ledger.KindAccrual)
		if err != nil {
			return err
		}
		if has {
			return ledger.ErrAccrualClosed
		}
		return ledger.ErrNoAccrual
	}
	return nil
}

// WithBucket serializes fn against one posting bucket.
func (s *Store) WithBucket(ctx context.Context, b ledger.Bucket, fn func(ledger.Store) error) error {
	mu := s.bucketLock(b)
	mu.Lock()
	defer mu.Unlock()
	return fn(s)
}

func (s *Store) bucketLock(b ledger.Bucket) *sync.Mutex {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	mu, ok := s.buckets[b]
	if !ok {
		mu = &sync.Mutex{}
		s.buckets[b] = mu
	}
	return mu
}

func (s *Store) queryEntries(ctx context.Context, where string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, kind, fund, instrument, entry_date, amount,
			accrual_type, capitalization, start_date, payment_date,
			cash_account, due_date, created_at
		FROM entries WHERE `+where+` ORDER BY created_at, kind`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var kind, accrualType, capitalization, entryDate, amount, createdAt string
		var startDate, paymentDate, dueDate sql.NullString
		if err := rows.Scan(&e.ID, &e.TicketID, &kind, &e.Fund, &e.Instrument,
			&entryDate, &amount, &accrualType, &capitalization,
			&startDate, &paymentDate, &e.CashAccount, &dueDate, &createdAt); err != nil {
			return nil, err
		}
		e.Kind = ledger.EntryKind(kind)
		e.AccrualType = ledger.AccrualType(accrualType)
		e.Capitalization = ledger.Capitalization(capitalization)
		if e.Date, err = ledger.ParseDate(entryDate); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.StartDate, err = scanDate(startDate); err != nil {
			return nil, err
		}
		if paymentDate.Valid {
			p, err := ledger.ParseDate(paymentDate.String)
			if err != nil {
				return nil, err
			}
			e.PaymentDate = &p
		}
		if e.DueDate, err = scanDate(dueDate); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TICKET BOOK
// =============================================================================

func (s *Store) AppendTicket(ctx context.Context, t *ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, kind, op, fund, instrument, cash_account,
			holder, trade_date, settlement_date, quotation_date, quantity,
			price, financial, costs, rate, capitalization, managed,
			reversible, reversal_date, parent_id, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Kind), string(t.Op), t.Fund, t.Instrument, t.CashAccount,
		t.Holder, t.TradeDate.String(), t.SettlementDate.String(),
		nullDate(t.QuotationDate),
		nullDec(t.Quantity), nullDec(t.Price), nullDec(t.Financial),
		t.Costs.String(), t.Rate.String(), string(t.Capitalization),
		boolInt(t.Managed), boolInt(t.Reversible), nullDatePtr(t.ReversalDate),
		t.ParentID, string(t.State), t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// UpdateTicket rewrites the mutable fields: lifecycle state and the
// quote-resolved quantity/price/financial.
func (s *Store) UpdateTicket(ctx context.Context, t *ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET quantity = ?, price = ?, financial = ?, state = ?
		WHERE id = ?`,
		nullDec(t.Quantity), nullDec(t.Price), nullDec(t.Financial),
		string(t.State), t.ID)
	return err
}

func (s *Store) GetTicket(ctx context.Context, id string) (*ticket.Ticket, bool, error) {
	tickets, err := s.queryTickets(ctx, `id = ?`, id)
	if err != nil || len(tickets) == 0 {
		return nil, false, err
	}
	return tickets[0], true, nil
}

func (s *Store) ChildTicket(ctx context.Context, parentID string) (*ticket.Ticket, bool, error) {
	tickets, err := s.queryTickets(ctx, `parent_id = ? AND parent_id != ''`, parentID)
	if err != nil || len(tickets) == 0 {
		return nil, false, err
	}
	return tickets[0], true, nil
}

// OpenTickets returns every ticket whose lifecycle has not finished,
// ordered by creation. This feeds the batch closing run.
func (s *Store) OpenTickets(ctx context.Context) ([]*ticket.Ticket, error) {
	return s.queryTickets(ctx, `state != ?`, string(ticket.StateDone))
}

func (s *Store) queryTickets(ctx context.Context, where string, args ...any) ([]*ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, op, fund, instrument, cash_account, holder,
			trade_date, settlement_date, quotation_date, quantity, price,
			financial, costs, rate, capitalization, managed, reversible,
			reversal_date, parent_id, state, created_at
		FROM tickets WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*ticket.Ticket
	for rows.Next() {
		t := &ticket.Ticket{}
		var kind, op, tradeDate, settlementDate, costs, rate, capitalization, state, createdAt string
		var quotationDate, quantity, price, financial, reversalDate sql.NullString
		var managed, reversible int
		if err := rows.Scan(&t.ID, &kind, &op, &t.Fund, &t.Instrument,
			&t.CashAccount, &t.Holder, &tradeDate, &settlementDate,
			&quotationDate, &quantity, &price, &financial, &costs, &rate,
			&capitalization, &managed, &reversible, &reversalDate,
			&t.ParentID, &state, &createdAt); err != nil {
			return nil, err
		}
		t.Kind = ticket.Kind(kind)
		t.Op = ticket.OperationKind(op)
		t.Capitalization = ledger.Capitalization(capitalization)
		t.State = ticket.State(state)
		t.Managed = managed != 0
		t.Reversible = reversible != 0
		if t.TradeDate, err = ledger.ParseDate(tradeDate); err != nil {
			return nil, err
		}
		if t.SettlementDate, err = ledger.ParseDate(settlementDate); err != nil {
			return nil, err
		}
		if t.QuotationDate, err = scanDate(quotationDate); err != nil {
			return nil, err
		}
		if reversalDate.Valid {
			d, err := ledger.ParseDate(reversalDate.String)
			if err != nil {
				return nil, err
			}
			t.ReversalDate = &d
		}
		if t.Quantity, err = scanDec(quantity); err != nil {
			return nil, err
		}
		if t.Price, err = scanDec(price); err != nil {
			return nil, err
		}
		if t.Financial, err = scanDec(financial); err != nil {
			return nil, err
		}
		if t.Costs, err = decimal.NewFromString(costs); err != nil {
			return nil, err
		}
		if t.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// =============================================================================
// TICKET BOOK VIEW
// =============================================================================

// Book is the ticket-book view over the store. A separate type because the
// entry store and the ticket book both append, to different tables.
type Book struct {
	s *Store
}

func (s *Store) Book() *Book { return &Book{s: s} }

func (b *Book) Append(ctx context.Context, t *ticket.Ticket) error {
	return b.s.AppendTicket(ctx, t)
}

func (b *Book) Get(ctx context.Context, id string) (*ticket.Ticket, bool, error) {
	return b.s.GetTicket(ctx, id)
}

func (b *Book) ChildOf(ctx context.Context, parentID string) (*ticket.Ticket, bool, error) {
	return b.s.ChildTicket(ctx, parentID)
}

func (b *Book) Update(ctx context.Context, t *ticket.Ticket) error {
	return b.s.UpdateTicket(ctx, t)
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func nullDate(d ledger.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func nullDatePtr(d *ledger.Date) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.String()
}

func scanDate(s sql.NullString) (ledger.Date, error) {
	if !s.Valid {
		return ledger.Date{}, nil
	}
	return ledger.ParseDate(s.String)
}

func nullDec(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanDec(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
