package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/store/sqlite"
	"github.com/warp/settlement-engine/ticket"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(ticketID string, kind ledger.EntryKind) ledger.Entry {
	return ledger.Entry{
		ID:         ticketID + "-" + string(kind),
		TicketID:   ticketID,
		Kind:       kind,
		Fund:       "FUND-A",
		Instrument: "PETR4",
		Date:       ledger.NewDate(2026, time.March, 2),
		Amount:     ledger.MustDecimal("2560"),
		CreatedAt:  time.Now().UTC(),
	}
}

// =============================================================================
// ENTRY PERSISTENCE
// =============================================================================

func TestEntries_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := testEntry("tk-1", ledger.KindAccrual)
	e.AccrualType = ledger.AccrualForQuotation
	e.Capitalization = ledger.CapDaily
	e.StartDate = ledger.NewDate(2026, time.March, 2)
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.ByTicket(ctx, "tk-1")
	if err != nil {
		t.Fatalf("by ticket: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	r := got[0]
	if r.Kind != ledger.KindAccrual || r.AccrualType != ledger.AccrualForQuotation {
		t.Errorf("kind round trip: %s/%s", r.Kind, r.AccrualType)
	}
	if !r.Amount.Equal(e.Amount) {
		t.Errorf("amount = %s, want %s", r.Amount, e.Amount)
	}
	if !r.StartDate.Equal(e.StartDate) {
		t.Errorf("start date = %s, want %s", r.StartDate, e.StartDate)
	}
	if r.PaymentDate != nil {
		t.Error("payment date must start open")
	}
}

func TestEntries_UniqueTicketKindEnforced(t *testing.T) {
	// The guard lives in the database too: a second entry of the same kind
	// for the same ticket is rejected by the unique index.
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Append(ctx, testEntry("tk-1", ledger.KindCash)); err != nil {
		t.Fatalf("append: %v", err)
	}

	dup := testEntry("tk-1", ledger.KindCash)
	dup.ID = "other-id"
	if err := s.Append(ctx, dup); !errors.Is(err, ledger.ErrDuplicatePosting) {
		t.Fatalf("expected ErrDuplicatePosting, got %v", err)
	}

	if err := s.Append(ctx, testEntry("tk-1", ledger.KindQuantity)); err != nil {
		t.Fatalf("different kind must pass: %v", err)
	}
}

func TestEntries_BatchRollsBackOnDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Append(ctx, testEntry("tk-1", ledger.KindCash)); err != nil {
		t.Fatalf("append: %v", err)
	}

	batch := []ledger.Entry{
		testEntry("tk-2", ledger.KindCash),
		testEntry("tk-1", ledger.KindCash), // duplicate
	}
	if err := s.AppendBatch(ctx, batch); !errors.Is(err, ledger.ErrDuplicatePosting) {
		t.Fatalf("expected ErrDuplicatePosting, got %v", err)
	}

	got, _ := s.ByTicket(ctx, "tk-2")
	if len(got) != 0 {
		t.Errorf("batch not rolled back: %d entries for tk-2", len(got))
	}
}

func TestSetAccrualPayment_FillOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := testEntry("tk-1", ledger.KindAccrual)
	e.StartDate = e.Date
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}

	first := ledger.NewDate(2026, time.March, 10)
	if err := s.SetAccrualPayment(ctx, "tk-1", first); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if err := s.SetAccrualPayment(ctx, "tk-1", ledger.NewDate(2026, time.April, 1)); !errors.Is(err, ledger.ErrAccrualClosed) {
		t.Fatalf("expected ErrAccrualClosed, got %v", err)
	}
	if err := s.SetAccrualPayment(ctx, "tk-none", first); !errors.Is(err, ledger.ErrNoAccrual) {
		t.Fatalf("expected ErrNoAccrual, got %v", err)
	}

	got, _ := s.ByTicket(ctx, "tk-1")
	if got[0].PaymentDate == nil || !got[0].PaymentDate.Equal(first) {
		t.Errorf("payment date = %v, want %s", got[0].PaymentDate, first)
	}
}

// =============================================================================
// TICKET PERSISTENCE
// =============================================================================

func TestTickets_RoundTripAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tk := ticket.New(ticket.OffshoreFund, ticket.OpSubscribe, "FUND-A", "OFF-1", "CASH-1")
	tk.TradeDate = ledger.NewDate(2026, time.June, 1)
	tk.QuotationDate = ledger.NewDate(2026, time.June, 2)
	tk.SettlementDate = ledger.NewDate(2026, time.June, 5)
	f := ledger.MustDecimal("130000")
	tk.Financial = &f
	tk.Managed = true

	if err := s.AppendTicket(ctx, tk); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, ok, err := s.GetTicket(ctx, tk.ID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.State != ticket.StatePendingQuotationSettlement {
		t.Errorf("state = %s", got.State)
	}
	if got.Quantity != nil || got.Price != nil {
		t.Error("unresolved fields must stay nil")
	}
	if !got.Financial.Equal(f) || !got.Managed {
		t.Error("financial/managed round trip failed")
	}

	// Resolve and persist.
	got.ResolveQuote(ledger.MustDecimal("1300"))
	got.State = ticket.StateDone
	if err := s.UpdateTicket(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	again, _, _ := s.GetTicket(ctx, tk.ID)
	if again.Quantity == nil || !again.Quantity.Equal(ledger.MustDecimal("100")) {
		t.Errorf("quantity after update = %v", again.Quantity)
	}

	open, err := s.OpenTickets(ctx)
	if err != nil {
		t.Fatalf("open tickets: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("done ticket still listed as open")
	}
}

func TestTickets_ChildLookupByParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent := ticket.New(ticket.OffshoreFund, ticket.OpBuy, "FUND-A", "OFF-1", "CASH-1")
	parent.TradeDate = ledger.NewDate(2026, time.June, 1)
	parent.SettlementDate = ledger.NewDate(2026, time.June, 5)
	child := ticket.New(ticket.Liability, ticket.OpSubscribe, "OFF-1", "OFF-1", "CASH-1")
	child.TradeDate = parent.TradeDate
	child.SettlementDate = parent.SettlementDate
	child.Holder = parent.Fund
	child.ParentID = parent.ID

	book := s.Book()
	if err := book.Append(ctx, parent); err != nil {
		t.Fatalf("append parent: %v", err)
	}
	if err := book.Append(ctx, child); err != nil {
		t.Fatalf("append child: %v", err)
	}

	got, ok, err := book.ChildOf(ctx, parent.ID)
	if err != nil || !ok {
		t.Fatalf("child lookup: ok=%v err=%v", ok, err)
	}
	if got.ID != child.ID || got.Holder != "FUND-A" {
		t.Errorf("wrong child: %s holder=%s", got.ID, got.Holder)
	}

	if _, ok, _ := book.ChildOf(ctx, child.ID); ok {
		t.Error("leaf ticket reported a child")
	}
}
