/*
entry.go - Ledger entry types

PURPOSE:
  Defines the four posting kinds a ticket closing can emit:
    Quantity:  signed position change (units)
    Cash:      signed financial change (cash precision)
    Accrual:   CPR amount bridging a start date to a payment date
    Provision: scheduled future cash movement against a cash account

IMMUTABILITY:
  Entries are append-only. The single exception is the accrual payment date,
  which starts unknown when the quotation leg is still open and is filled in
  exactly once when the counterpart date becomes known. Nothing else is ever
  updated or deleted.

IDEMPOTENCY:
  A ticket posts at most one entry per kind. "Does an entry of this kind
  already exist for this ticket" is the duplicate guard - there is no
  separate posted flag to drift out of sync.

SEE ALSO:
  - ledger.go: posting with the duplicate guard
  - store.go: persistence interface
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY KINDS
// =============================================================================

type EntryKind string

const (
	KindQuantity  EntryKind = "quantity"
	KindCash      EntryKind = "cash"
	KindAccrual   EntryKind = "accrual"
	KindProvision EntryKind = "provision"
)

// AccrualType tags which leg of a ticket an accrual bridges.
type AccrualType string

const (
	AccrualNone          AccrualType = ""
	AccrualForQuotation  AccrualType = "quotation"
	AccrualForSettlement AccrualType = "settlement"
	AccrualGeneric       AccrualType = "generic"
)

// Capitalization is how an accrual amount grows between its dates.
type Capitalization string

const (
	CapNone    Capitalization = "none"
	CapDaily   Capitalization = "daily"
	CapMonthly Capitalization = "monthly"
)

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one immutable ledger posting. The (Fund, Instrument, Date) triple
// is the posting bucket; writes to one bucket are serialized by the store.
type Entry struct {
	ID         string
	TicketID   string // originating ticket (non-owning back-reference)
	Kind       EntryKind
	Fund       string
	Instrument string
	Date       Date
	Amount     decimal.Decimal // units for KindQuantity, cash otherwise

	// Accrual fields (KindAccrual only)
	AccrualType    AccrualType
	Capitalization Capitalization
	StartDate      Date
	PaymentDate    *Date // nil while the counterpart date is unknown

	// Provision fields (KindProvision only)
	CashAccount string
	DueDate     Date

	CreatedAt time.Time
}

// Bucket identifies the serialization unit for concurrent posting.
type Bucket struct {
	Fund       string
	Instrument string
	Date       Date
}

func (e Entry) Bucket() Bucket {
	return Bucket{Fund: e.Fund, Instrument: e.Instrument, Date: e.Date}
}

// Open reports whether an accrual is still bridging (payment date unknown).
func (e Entry) Open() bool {
	return e.Kind == KindAccrual && e.PaymentDate == nil
}

// AccrualWindow returns the period an accrual is valued over at a date:
// start date to at, with the end clamped to the payment date once the
// accrual is closed. Valuation itself lives with the closing engine, which
// holds the business-day calendar that counts the periods.
func (e Entry) AccrualWindow(at Date) (start, end Date) {
	end = at
	if e.PaymentDate != nil && e.PaymentDate.Before(at) {
		end = *e.PaymentDate
	}
	if end.Before(e.StartDate) {
		end = e.StartDate
	}
	return e.StartDate, end
}
