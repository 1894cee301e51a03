/*
book.go - Ticket book and the liability mirror

When a closing trades a managed pooled instrument, the engine emits the
mirror-side Liability ticket on the pooled fund's book: units issued or
redeemed, certificate consumption, and the mirrored postings. The mirror is
created at the first leg that closes - without a unit price when cash moves
before the quote - and its price is backfilled once known.
*/
package closing

import (
	"context"
	"sync"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ticket"
)

// =============================================================================
// TICKET BOOK
// =============================================================================

// TicketBook stores tickets the engine creates or updates. Liability
// mirrors are looked up by their parent so re-closing never duplicates
// them.
type TicketBook interface {
	Append(ctx context.Context, t *ticket.Ticket) error
	Get(ctx context.Context, id string) (*ticket.Ticket, bool, error)
	ChildOf(ctx context.Context, parentID string) (*ticket.Ticket, bool, error)
	Update(ctx context.Context, t *ticket.Ticket) error
}

// MemoryBook is an in-memory TicketBook.
type MemoryBook struct {
	mu       sync.RWMutex
	tickets  map[string]*ticket.Ticket
	byParent map[string]string
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{
		tickets:  make(map[string]*ticket.Ticket),
		byParent: make(map[string]string),
	}
}

func (b *MemoryBook) Append(_ context.Context, t *ticket.Ticket) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickets[t.ID] = t
	if t.ParentID != "" {
		b.byParent[t.ParentID] = t.ID
	}
	return nil
}

func (b *MemoryBook) Get(_ context.Context, id string) (*ticket.Ticket, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tickets[id]
	return t, ok, nil
}

func (b *MemoryBook) ChildOf(_ context.Context, parentID string) (*ticket.Ticket, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byParent[parentID]
	if !ok {
		return nil, false, nil
	}
	t, ok := b.tickets[id]
	return t, ok, nil
}

func (b *MemoryBook) Update(_ context.Context, t *ticket.Ticket) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickets[t.ID] = t
	return nil
}

// =============================================================================
// LIABILITY MIRROR
// =============================================================================

// mirrorLiability creates or completes the Liability ticket for a managed
// instrument trade. withPrice backfills the unit price and drives the
// mirror to completion.
func (e *Engine) mirrorLiability(ctx context.Context, parent *ticket.Ticket, date ledger.Date, withPrice bool) error {
	child, ok, err := e.Book.ChildOf(ctx, parent.ID)
	if err != nil {
		return err
	}
	if !ok {
		child = newLiabilityMirror(parent)
		if err := e.Book.Append(ctx, child); err != nil {
			return err
		}
	}

	if withPrice && child.Price == nil && parent.Price != nil {
		p := *parent.Price
		child.Price = &p
		if parent.Quantity != nil && child.Quantity == nil {
			q := *parent.Quantity
			child.Quantity = &q
		}
		if err := e.Book.Update(ctx, child); err != nil {
			return err
		}
	}

	if child.Price == nil {
		// Unit price still pending; the mirror stays open.
		return nil
	}
	_, err = e.closeLiability(ctx, child, date)
	return err
}

func newLiabilityMirror(parent *ticket.Ticket) *ticket.Ticket {
	op := ticket.OpSubscribe
	if parent.Op.Polarity() < 0 {
		op = ticket.OpRedeem
	}
	// The mirror lives on the pooled fund's own book; the trading fund is
	// the certificate holder.
	c := ticket.New(ticket.Liability, op, parent.Instrument, parent.Instrument, parent.CashAccount)
	c.Holder = parent.Fund
	c.ParentID = parent.ID
	c.TradeDate = parent.TradeDate
	c.SettlementDate = parent.SettlementDate
	c.QuotationDate = parent.QuotationDate
	c.Costs = parent.Costs
	if parent.Financial != nil {
		f := *parent.Financial
		c.Financial = &f
	}
	if parent.Quantity != nil {
		q := *parent.Quantity
		c.Quantity = &q
	}
	if parent.Price != nil {
		p := *parent.Price
		c.Price = &p
	}
	return c
}

// closeLiability settles a Liability ticket: FIFO certificate consumption
// plus the mirrored quantity and cash postings. Insufficiency aborts before
// any ledger mutation.
func (e *Engine) closeLiability(ctx context.Context, t *ticket.Ticket, ref ledger.Date) (Result, error) {
	var res Result
	if t.Price == nil {
		return res, nil
	}

	done, err := e.Ledger.Has(ctx, t.ID, ledger.KindQuantity)
	if err != nil {
		return res, err
	}
	if done {
		t.State = ticket.StateDone
		return Result{FullyClosed: true}, nil
	}

	t.ResolveQuote(*t.Price)
	if t.Quantity == nil {
		return res, nil
	}
	net, ok := t.NetFinancial()
	if !ok {
		return res, nil
	}
	units := ledger.RoundUnits(t.Quantity.Abs())

	if t.Op.Polarity() > 0 {
		if _, err := e.Lots.Subscribe(t.Fund, t.Holder, ref, *t.Price, units); err != nil {
			return res, err
		}
	} else {
		if _, err := e.Lots.RedeemUnits(t.Fund, t.Holder, ref, units); err != nil {
			return res, err
		}
	}

	if err := e.postQuantity(ctx, t, ref, &res); err != nil {
		return res, err
	}
	if err := e.postCash(ctx, t, net, ref, &res); err != nil {
		return res, err
	}

	t.State = ticket.StateDone
	res.FullyClosed = true
	return res, nil
}
