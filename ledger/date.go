package ledger

import (
	"time"
)

// =============================================================================
// DATE - Civil date, day granularity
// =============================================================================

// Date is a civil date. Every ledger posting, ticket milestone, and quote
// lookup is keyed by a Date; intraday time never matters in this system.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.t.After(other.t) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.t.Before(other.t) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

// DaysBetween returns the number of calendar days from d to other.
func (d Date) DaysBetween(other Date) int {
	return int(other.t.Sub(d.t).Hours() / 24)
}

// MonthsBetween returns whole months from d to other.
func (d Date) MonthsBetween(other Date) int {
	months := (other.t.Year()-d.t.Year())*12 + int(other.t.Month()) - int(d.t.Month())
	if other.t.Day() < d.t.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool          { return d.t.IsZero() }

func (d Date) IsWeekend() bool {
	wd := d.t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	return d.t.Format("2006-01-02")
}
