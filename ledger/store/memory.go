// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (tests/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries []ledger.Entry
	byKey   map[postKey]int // index into entries

	bucketMu sync.Mutex
	buckets  map[ledger.Bucket]*sync.Mutex
}

type postKey struct {
	TicketID string
	Kind     ledger.EntryKind
}

func NewMemory() *Memory {
	return &Memory{
		byKey:   make(map[postKey]int),
		buckets: make(map[ledger.Bucket]*sync.Mutex),
	}
}

func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) AppendBatch(_ context.Context, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all guards first, then write; either all land or none do.
	for _, e := range entries {
		if _, exists := m.byKey[postKey{e.TicketID, e.Kind}]; exists {
			return ledger.ErrDuplicatePosting
		}
	}
	for _, e := range entries {
		if err := m.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(e ledger.Entry) error {
	k := postKey{e.TicketID, e.Kind}
	if _, exists := m.byKey[k]; exists {
		return ledger.ErrDuplicatePosting
	}
	m.byKey[k] = len(m.entries)
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) ByTicket(_ context.Context, ticketID string) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries {
		if e.TicketID == ticketID {
			result = append(result, e)
		}
	}
	sortEntries(result)
	return result, nil
}

func (m *Memory) ByBucket(_ context.Context, b ledger.Bucket) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries {
		if e.Bucket() == b {
			result = append(result, e)
		}
	}
	sortEntries(result)
	return result, nil
}

func (m *Memory) Has(_ context.Context, ticketID string, kind ledger.EntryKind) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.byKey[postKey{ticketID, kind}]
	return exists, nil
}

func (m *Memory) SetAccrualPayment(_ context.Context, ticketID string, payment ledger.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, exists := m.byKey[postKey{ticketID, ledger.KindAccrual}]
	if !exists {
		return ledger.ErrNoAccrual
	}
	if m.entries[idx].PaymentDate != nil {
		return ledger.ErrAccrualClosed
	}
	p := payment
	m.entries[idx].PaymentDate = &p
	return nil
}

// WithBucket serializes fn against one posting bucket. Tickets posting to
// distinct buckets proceed in parallel.
func (m *Memory) WithBucket(ctx context.Context, b ledger.Bucket, fn func(ledger.Store) error) error {
	mu := m.bucketLock(b)
	mu.Lock()
	defer mu.Unlock()
	return fn(m)
}

func (m *Memory) bucketLock(b ledger.Bucket) *sync.Mutex {
	m.bucketMu.Lock()
	defer m.bucketMu.Unlock()
	mu, ok := m.buckets[b]
	if !ok {
		mu = &sync.Mutex{}
		m.buckets[b] = mu
	}
	return mu
}

func sortEntries(entries []ledger.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Kind < entries[j].Kind
	})
}
