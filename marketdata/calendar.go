package marketdata

import (
	"sync"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// CALENDAR SERVICE - Business-day arithmetic
// =============================================================================

// CalendarService performs business-day arithmetic for a named market
// calendar. The engine consumes it as a service: given a reference date and
// an offset, return a date.
type CalendarService interface {
	// AddBusinessDays returns date shifted by n business days (n may be
	// negative) on the given calendar.
	AddBusinessDays(date ledger.Date, calendar string, n int) ledger.Date

	// BusinessDaysBetween counts business days in (start, end].
	BusinessDaysBetween(start, end ledger.Date, calendar string) int
}

// =============================================================================
// HOLIDAY CALENDAR - weekends plus per-calendar holiday sets
// =============================================================================

type HolidayCalendar struct {
	mu       sync.RWMutex
	holidays map[string]map[string]bool // calendar -> date -> holiday
}

func NewHolidayCalendar() *HolidayCalendar {
	return &HolidayCalendar{holidays: make(map[string]map[string]bool)}
}

// AddHoliday marks a date as a holiday on a calendar. An empty calendar
// name registers a global holiday.
func (c *HolidayCalendar) AddHoliday(calendar string, date ledger.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holidays[calendar] == nil {
		c.holidays[calendar] = make(map[string]bool)
	}
	c.holidays[calendar][date.String()] = true
}

// IsBusinessDay reports whether date is a working day on the calendar.
func (c *HolidayCalendar) IsBusinessDay(date ledger.Date, calendar string) bool {
	if date.IsWeekend() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.holidays[calendar][date.String()] {
		return false
	}
	if calendar != "" && c.holidays[""][date.String()] {
		return false
	}
	return true
}

func (c *HolidayCalendar) AddBusinessDays(date ledger.Date, calendar string, n int) ledger.Date {
	step := 1
	if n < 0 {
		step = -1
		n = -n
	}
	d := date
	for n > 0 {
		d = d.AddDays(step)
		if c.IsBusinessDay(d, calendar) {
			n--
		}
	}
	return d
}

func (c *HolidayCalendar) BusinessDaysBetween(start, end ledger.Date, calendar string) int {
	if end.BeforeOrEqual(start) {
		return 0
	}
	count := 0
	for d := start.AddDays(1); d.BeforeOrEqual(end); d = d.AddDays(1) {
		if c.IsBusinessDay(d, calendar) {
			count++
		}
	}
	return count
}
