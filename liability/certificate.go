/*
Package liability tracks subscribed unit lots (certificates) of pooled
funds under management and consumes them FIFO on redemption.

A Certificate is created when a subscription closes. Redemptions decrement
the oldest certificates first; an exhausted certificate stays on the books
inert, never deleted, so the acquisition history remains traceable.
*/
package liability

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// Certificate is one lot of subscribed units.
type Certificate struct {
	ID              string
	Fund            string
	Holder          string
	AcquisitionDate ledger.Date
	UnitPrice       decimal.Decimal // unit price at acquisition
	UnitsAcquired   decimal.Decimal
	UnitsRemaining  decimal.Decimal
}

func newCertificate(fund, holder string, date ledger.Date, unitPrice, units decimal.Decimal) *Certificate {
	return &Certificate{
		ID:              uuid.NewString(),
		Fund:            fund,
		Holder:          holder,
		AcquisitionDate: date,
		UnitPrice:       unitPrice,
		UnitsAcquired:   units,
		UnitsRemaining:  units,
	}
}

// Exhausted reports whether the lot has no units left.
func (c *Certificate) Exhausted() bool {
	return c.UnitsRemaining.IsZero()
}

// Consumption records units taken from one certificate by a redemption.
type Consumption struct {
	CertificateID string
	Units         decimal.Decimal
}
