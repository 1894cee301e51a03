/*
tracker.go - FIFO consumption of subscription certificates

INVARIANTS:
  1. FIFO: redemptions consume certificates oldest acquisition date first
  2. ALL-OR-NOTHING: insufficiency is detected before any balance changes;
     a failed redemption mutates nothing
  3. RETENTION: exhausted certificates are kept, never deleted

CONCURRENCY:
  Consumption order and remaining balances are order-dependent, so all
  operations for one (fund, holder) pair hold that pair's mutex.
*/
package liability

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// TRACKER
// =============================================================================

type Tracker struct {
	mu    sync.Mutex
	books map[bookKey]*book
}

type bookKey struct {
	Fund   string
	Holder string
}

// book holds one holder's certificates in a fund, with its own lock.
type book struct {
	mu    sync.Mutex
	certs []*Certificate
}

func NewTracker() *Tracker {
	return &Tracker{books: make(map[bookKey]*book)}
}

// Subscribe creates a new certificate with remaining = units.
func (t *Tracker) Subscribe(fund, holder string, date ledger.Date, unitPrice, units decimal.Decimal) (*Certificate, error) {
	if !units.IsPositive() {
		return nil, &ledger.InvalidFieldError{Field: "units", Reason: "subscription units must be positive"}
	}
	if unitPrice.IsNegative() {
		return nil, &ledger.InvalidFieldError{Field: "unit_price", Reason: "must not be negative"}
	}

	b := t.book(fund, holder)
	b.mu.Lock()
	defer b.mu.Unlock()

	c := newCertificate(fund, holder, date, unitPrice, ledger.RoundUnits(units))
	b.certs = append(b.certs, c)
	sort.SliceStable(b.certs, func(i, j int) bool {
		return b.certs[i].AcquisitionDate.Before(b.certs[j].AcquisitionDate)
	})
	return c, nil
}

// Redeem converts a financial amount to units at the redemption unit price
// (unit precision) and consumes certificates FIFO.
func (t *Tracker) Redeem(fund, holder string, date ledger.Date, unitPrice, financialAmount decimal.Decimal) ([]Consumption, error) {
	if unitPrice.IsZero() || unitPrice.IsNegative() {
		return nil, &ledger.InvalidFieldError{Field: "unit_price", Reason: "must be positive for redemption"}
	}
	units := ledger.RoundUnits(financialAmount.Abs().Div(unitPrice))
	return t.RedeemUnits(fund, holder, date, units)
}

// RedeemUnits consumes the requested units FIFO across the holder's
// certificates. Fails with InsufficientUnitsError, touching nothing, when
// the total remaining is short.
func (t *Tracker) RedeemUnits(fund, holder string, _ ledger.Date, units decimal.Decimal) ([]Consumption, error) {
	if !units.IsPositive() {
		return nil, &ledger.InvalidFieldError{Field: "units", Reason: "redemption units must be positive"}
	}

	b := t.book(fund, holder)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Insufficiency check first: never silently under-consume.
	available := decimal.Zero
	for _, c := range b.certs {
		available = available.Add(c.UnitsRemaining)
	}
	if available.LessThan(units) {
		return nil, &ledger.InsufficientUnitsError{
			Fund:      fund,
			Holder:    holder,
			Requested: units,
			Available: available,
		}
	}

	var consumed []Consumption
	remaining := units
	for _, c := range b.certs {
		if remaining.IsZero() {
			break
		}
		if c.Exhausted() {
			continue
		}
		take := decimal.Min(c.UnitsRemaining, remaining)
		c.UnitsRemaining = c.UnitsRemaining.Sub(take)
		remaining = remaining.Sub(take)
		consumed = append(consumed, Consumption{CertificateID: c.ID, Units: take})
	}
	return consumed, nil
}

// Certificates returns copies of the holder's certificates, oldest first.
// Exhausted lots are included.
func (t *Tracker) Certificates(fund, holder string) []Certificate {
	b := t.book(fund, holder)
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]Certificate, 0, len(b.certs))
	for _, c := range b.certs {
		result = append(result, *c)
	}
	return result
}

// TotalRemaining sums outstanding units across the holder's certificates.
func (t *Tracker) TotalRemaining(fund, holder string) decimal.Decimal {
	b := t.book(fund, holder)
	b.mu.Lock()
	defer b.mu.Unlock()

	total := decimal.Zero
	for _, c := range b.certs {
		total = total.Add(c.UnitsRemaining)
	}
	return total
}

func (t *Tracker) book(fund, holder string) *book {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := bookKey{fund, holder}
	b, ok := t.books[k]
	if !ok {
		b = &book{}
		t.books[k] = b
	}
	return b
}
