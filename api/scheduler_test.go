package api_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/closing"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/liability"
	"github.com/warp/settlement-engine/marketdata"
	"github.com/warp/settlement-engine/store/sqlite"
)

func newTestScheduler(t *testing.T) *api.ClosingScheduler {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine := &closing.Engine{
		Ledger:   ledger.New(st, zerolog.Nop()),
		Prices:   marketdata.NewMemoryPrices(),
		Calendar: marketdata.NewHolidayCalendar(),
		Lots:     liability.NewTracker(),
		Book:     st.Book(),
		Log:      zerolog.Nop(),
	}
	cs := api.NewClosingScheduler(st, closing.NewRunner(engine, 2, zerolog.Nop()), zerolog.Nop())
	cs.CheckInterval = time.Hour
	return cs
}

func TestScheduler_StopTwiceSafe(t *testing.T) {
	// GIVEN: a started scheduler
	// WHEN: Stop is called again, e.g. from a second shutdown path
	// THEN: the second call is a no-op, not a closed-channel panic

	cs := newTestScheduler(t)
	cs.Start()

	cs.Stop()
	cs.Stop()
}

func TestScheduler_StopBeforeStartIsNoop(t *testing.T) {
	cs := newTestScheduler(t)
	cs.Stop()
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	cs := newTestScheduler(t)
	cs.Enabled = false

	cs.Start()
	cs.Stop()
}
