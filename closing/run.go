/*
run.go - Batch closing runs

An external batch process closes all tickets due at a reference date.
Tickets are independent within one run, so they close in parallel; the
store's bucket lock serializes postings that land in the same
(fund, instrument, date) bucket, which is what keeps the duplicate guard
race-free.
*/
package closing

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ticket"
)

// =============================================================================
// RUNNER
// =============================================================================

type Runner struct {
	Engine  *Engine
	Workers int
	Log     zerolog.Logger
}

func NewRunner(engine *Engine, workers int, log zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 4
	}
	return &Runner{Engine: engine, Workers: workers, Log: log}
}

// Report summarizes one closing run.
type Report struct {
	ReferenceDate ledger.Date
	Closed        int // fully closed this run
	Partial       int // posted something or advanced state, still open
	Failed        int
	Errors        map[string]error // by ticket ID
}

// Run closes every ticket at the reference date using a worker pool.
// Validation and insufficiency errors fail that ticket only; the run
// continues.
func (r *Runner) Run(ctx context.Context, tickets []*ticket.Ticket, ref ledger.Date) Report {
	report := Report{ReferenceDate: ref, Errors: make(map[string]error)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan *ticket.Ticket)

	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				res, err := r.Engine.Close(ctx, t, ref)

				mu.Lock()
				switch {
				case err != nil:
					report.Failed++
					report.Errors[t.ID] = err
				case res.FullyClosed:
					report.Closed++
				default:
					report.Partial++
				}
				mu.Unlock()

				r.logOutcome(t, ref, res, err)
			}
		}()
	}

	for _, t := range tickets {
		select {
		case <-ctx.Done():
		case work <- t:
		}
	}
	close(work)
	wg.Wait()

	r.Log.Info().
		Stringer("reference_date", ref).
		Int("closed", report.Closed).
		Int("partial", report.Partial).
		Int("failed", report.Failed).
		Msg("closing run finished")
	return report
}

func (r *Runner) logOutcome(t *ticket.Ticket, ref ledger.Date, res Result, err error) {
	ev := r.Log.Info()
	if err != nil {
		ev = r.Log.Error().Err(err)
	}
	ev.Str("ticket_id", t.ID).
		Str("kind", string(t.Kind)).
		Str("state", string(t.State)).
		Stringer("reference_date", ref).
		Bool("fully_closed", res.FullyClosed).
		Int("entries_posted", len(res.Posted)).
		Msg("ticket closing")
}
