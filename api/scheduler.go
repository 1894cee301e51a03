/*
scheduler.go - Automated closing scheduler

PURPOSE:
  Periodically runs the batch closing over all open tickets, so milestone
  dates (settlement, quotation) are picked up without a manual trigger.
  Idempotent postings make an extra run harmless.

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewClosingScheduler(store, runner, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunClosing endpoint (manual trigger)
  - closing/run.go: the batch runner
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/settlement-engine/closing"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/store/sqlite"
)

// ClosingScheduler runs the batch closing on a timer.
type ClosingScheduler struct {
	Store         *sqlite.Store
	Runner        *closing.Runner
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger

	ticker   *time.Ticker
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewClosingScheduler creates a new scheduler.
func NewClosingScheduler(store *sqlite.Store, runner *closing.Runner, log zerolog.Logger) *ClosingScheduler {
	return &ClosingScheduler{
		Store:         store,
		Runner:        runner,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (cs *ClosingScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.Log.Info().Msg("scheduler disabled, not starting")
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.wg.Add(1)
	go cs.run()

	cs.Log.Info().Dur("check_interval", cs.CheckInterval).Msg("scheduler started")
}

// Stop stops the scheduler. Safe to call more than once; only the first
// call does anything.
func (cs *ClosingScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker == nil {
		return
	}
	cs.stopOnce.Do(func() {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.Log.Info().Msg("scheduler stopped")
	})
}

func (cs *ClosingScheduler) run() {
	defer cs.wg.Done()

	// Run immediately on start
	cs.closeOpenTickets()

	for {
		select {
		case <-cs.ticker.C:
			cs.closeOpenTickets()
		case <-cs.stop:
			return
		}
	}
}

func (cs *ClosingScheduler) closeOpenTickets() {
	ctx := context.Background()
	ref := ledger.Today()

	open, err := cs.Store.OpenTickets(ctx)
	if err != nil {
		cs.Log.Error().Err(err).Msg("scheduler failed to load open tickets")
		return
	}
	if len(open) == 0 {
		return
	}

	report := cs.Runner.Run(ctx, open, ref)

	for _, t := range open {
		if err := cs.Store.UpdateTicket(ctx, t); err != nil {
			cs.Log.Error().Err(err).Str("ticket_id", t.ID).Msg("scheduler failed to persist ticket state")
		}
	}

	cs.Log.Info().
		Stringer("reference_date", ref).
		Int("open", len(open)).
		Int("closed", report.Closed).
		Int("partial", report.Partial).
		Int("failed", report.Failed).
		Msg("scheduled closing run")
}

// RunNow triggers an immediate run (for testing/admin).
func (cs *ClosingScheduler) RunNow() {
	cs.closeOpenTickets()
}
