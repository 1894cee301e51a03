package liability_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/liability"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(y int, m time.Month, d int) ledger.Date {
	return ledger.NewDate(y, m, d)
}

func dec(s string) decimal.Decimal {
	return ledger.MustDecimal(s)
}

// twoLots seeds the classic fixture: 1000 units (older) and 500 units (newer).
func twoLots(t *testing.T) *liability.Tracker {
	t.Helper()
	tracker := liability.NewTracker()
	_, err := tracker.Subscribe("FUND-P", "HOLDER-A", date(2026, time.January, 5), dec("10"), dec("1000"))
	require.NoError(t, err)
	_, err = tracker.Subscribe("FUND-P", "HOLDER-A", date(2026, time.February, 9), dec("12"), dec("500"))
	require.NoError(t, err)
	return tracker
}

// =============================================================================
// FIFO CONSUMPTION
// =============================================================================

func TestRedeem_FIFO_SpansTwoCertificates(t *testing.T) {
	// 1200 units against 1000 (oldest) + 500 (newest): the old lot is fully
	// exhausted, the new one keeps exactly 300.
	tracker := twoLots(t)

	consumed, err := tracker.RedeemUnits("FUND-P", "HOLDER-A", date(2026, time.March, 2), dec("1200"))
	require.NoError(t, err)
	require.Len(t, consumed, 2)
	assert.True(t, consumed[0].Units.Equal(dec("1000")), "oldest lot consumed first: %s", consumed[0].Units)
	assert.True(t, consumed[1].Units.Equal(dec("200")))

	certs := tracker.Certificates("FUND-P", "HOLDER-A")
	require.Len(t, certs, 2)
	assert.True(t, certs[0].Exhausted(), "oldest certificate fully exhausted")
	assert.True(t, certs[1].UnitsRemaining.Equal(dec("300")), "newest keeps the residual: %s", certs[1].UnitsRemaining)
}

func TestRedeem_FinancialAmountConvertsAtUnitPrecision(t *testing.T) {
	// financial 13000 at unit price 12 -> 1083.333333 units (6 places).
	tracker := twoLots(t)

	consumed, err := tracker.Redeem("FUND-P", "HOLDER-A", date(2026, time.March, 2), dec("12"), dec("13000"))
	require.NoError(t, err)

	total := decimal.Zero
	for _, c := range consumed {
		total = total.Add(c.Units)
	}
	assert.True(t, total.Equal(dec("1083.333333")), "consumed %s", total)
}

func TestRedeem_Insufficient_NothingMutated(t *testing.T) {
	// 2000 units against 1500 total remaining: hard error, zero mutation.
	tracker := twoLots(t)
	require.NoError(t, errNil(tracker.RedeemUnits("FUND-P", "HOLDER-A", date(2026, time.March, 2), dec("300"))))

	_, err := tracker.RedeemUnits("FUND-P", "HOLDER-A", date(2026, time.March, 3), dec("2000"))
	require.ErrorIs(t, err, ledger.ErrInsufficientUnits)

	var insufficient *ledger.InsufficientUnitsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Requested.Equal(dec("2000")))
	assert.True(t, insufficient.Available.Equal(dec("1200")))

	// Balances untouched by the failed call.
	assert.True(t, tracker.TotalRemaining("FUND-P", "HOLDER-A").Equal(dec("1200")))
}

func TestRedeem_ExhaustedCertificatesRetained(t *testing.T) {
	tracker := twoLots(t)

	_, err := tracker.RedeemUnits("FUND-P", "HOLDER-A", date(2026, time.March, 2), dec("1500"))
	require.NoError(t, err)

	certs := tracker.Certificates("FUND-P", "HOLDER-A")
	require.Len(t, certs, 2, "exhausted certificates stay on the books")
	for _, c := range certs {
		assert.True(t, c.Exhausted())
		assert.False(t, c.UnitsAcquired.IsZero(), "acquisition history preserved")
	}
}

func TestSubscribe_Validation(t *testing.T) {
	tracker := liability.NewTracker()

	_, err := tracker.Subscribe("FUND-P", "HOLDER-A", date(2026, time.January, 5), dec("10"), dec("0"))
	require.ErrorIs(t, err, ledger.ErrInvalidField)

	_, err = tracker.Subscribe("FUND-P", "HOLDER-A", date(2026, time.January, 5), dec("-1"), dec("100"))
	require.ErrorIs(t, err, ledger.ErrInvalidField)
}

func TestRedeem_ConcurrentSameHolder_Serialized(t *testing.T) {
	// 10 concurrent redemptions of 100 units against 1000: all succeed and
	// the book lands exactly at zero.
	tracker := liability.NewTracker()
	_, err := tracker.Subscribe("FUND-P", "HOLDER-A", date(2026, time.January, 5), dec("10"), dec("1000"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.RedeemUnits("FUND-P", "HOLDER-A", date(2026, time.March, 2), dec("100"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, tracker.TotalRemaining("FUND-P", "HOLDER-A").IsZero())
}

func errNil(_ []liability.Consumption, err error) error { return err }
