/*
Package marketdata holds the engine's external collaborators: the price
service and the business-day calendar.

Price availability is an external fact the closing engine queries, never
computes. A quote carries the date it was recorded on, which may be later
than the quotation date it prices - the engine dates back-filled postings
by that recorded date.
*/
package marketdata

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// PRICE SERVICE
// =============================================================================

// Quote is a closing price for an instrument at a date.
type Quote struct {
	Price      decimal.Decimal
	RecordedOn ledger.Date // when the price service learned the price
}

// PriceService answers "is there a quote for (instrument, date)".
type PriceService interface {
	GetQuote(instrument string, date ledger.Date) (Quote, bool)
}

// =============================================================================
// MEMORY PRICE SERVICE - quote table for tests/dev
// =============================================================================

type MemoryPrices struct {
	mu     sync.RWMutex
	quotes map[quoteKey]Quote
}

type quoteKey struct {
	Instrument string
	Date       string
}

func NewMemoryPrices() *MemoryPrices {
	return &MemoryPrices{quotes: make(map[quoteKey]Quote)}
}

// Record stores a quote for (instrument, date), noting when it was recorded.
func (p *MemoryPrices) Record(instrument string, date ledger.Date, price decimal.Decimal, recordedOn ledger.Date) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[quoteKey{instrument, date.String()}] = Quote{Price: price, RecordedOn: recordedOn}
}

func (p *MemoryPrices) GetQuote(instrument string, date ledger.Date) (Quote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[quoteKey{instrument, date.String()}]
	return q, ok
}
