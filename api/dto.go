/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMAL ENCODING:
  Monetary and unit amounts travel as strings ("130000.00"), never as
  JSON numbers. Float64 cannot represent them exactly.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/closing"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/liability"
	"github.com/warp/settlement-engine/ticket"
)

// =============================================================================
// TICKETS
// =============================================================================

// CreateTicketRequest is the request to register a trade ticket.
type CreateTicketRequest struct {
	Kind        string `json:"kind"`
	Op          string `json:"op"`
	Fund        string `json:"fund"`
	Instrument  string `json:"instrument"`
	CashAccount string `json:"cash_account"`
	Holder      string `json:"holder,omitempty"`

	TradeDate      string `json:"trade_date"`
	SettlementDate string `json:"settlement_date"`
	QuotationDate  string `json:"quotation_date,omitempty"`

	Quantity  *string `json:"quantity,omitempty"`
	Price     *string `json:"price,omitempty"`
	Financial *string `json:"financial,omitempty"`
	Costs     string  `json:"costs,omitempty"`

	Rate           string `json:"rate,omitempty"`
	Capitalization string `json:"capitalization,omitempty"`

	Managed      bool   `json:"managed,omitempty"`
	Reversible   bool   `json:"reversible,omitempty"`
	ReversalDate string `json:"reversal_date,omitempty"`
}

// TicketDTO represents a ticket in API responses.
type TicketDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Op          string `json:"op"`
	Fund        string `json:"fund"`
	Instrument  string `json:"instrument"`
	CashAccount string `json:"cash_account"`
	Holder      string `json:"holder,omitempty"`

	TradeDate      string `json:"trade_date"`
	SettlementDate string `json:"settlement_date"`
	QuotationDate  string `json:"quotation_date,omitempty"`

	Quantity  *string `json:"quantity,omitempty"`
	Price     *string `json:"price,omitempty"`
	Financial *string `json:"financial,omitempty"`
	Costs     string  `json:"costs"`

	Rate           string `json:"rate"`
	Capitalization string `json:"capitalization"`

	Managed      bool   `json:"managed"`
	Reversible   bool   `json:"reversible"`
	ReversalDate string `json:"reversal_date,omitempty"`

	ParentID  string `json:"parent_id,omitempty"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
}

func ticketDTO(t *ticket.Ticket) TicketDTO {
	dto := TicketDTO{
		ID:             t.ID,
		Kind:           string(t.Kind),
		Op:             string(t.Op),
		Fund:           t.Fund,
		Instrument:     t.Instrument,
		CashAccount:    t.CashAccount,
		Holder:         t.Holder,
		TradeDate:      t.TradeDate.String(),
		SettlementDate: t.SettlementDate.String(),
		Quantity:       decString(t.Quantity),
		Price:          decString(t.Price),
		Financial:      decString(t.Financial),
		Costs:          t.Costs.String(),
		Rate:           t.Rate.String(),
		Capitalization: string(t.Capitalization),
		Managed:        t.Managed,
		Reversible:     t.Reversible,
		ParentID:       t.ParentID,
		State:          string(t.State),
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
	if !t.QuotationDate.IsZero() {
		dto.QuotationDate = t.QuotationDate.String()
	}
	if t.ReversalDate != nil {
		dto.ReversalDate = t.ReversalDate.String()
	}
	return dto
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID             string `json:"id"`
	TicketID       string `json:"ticket_id"`
	Kind           string `json:"kind"`
	Fund           string `json:"fund"`
	Instrument     string `json:"instrument"`
	Date           string `json:"date"`
	Amount         string `json:"amount"`
	AccrualType    string `json:"accrual_type,omitempty"`
	Capitalization string `json:"capitalization,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	PaymentDate    string `json:"payment_date,omitempty"`
	CashAccount    string `json:"cash_account,omitempty"`
	DueDate        string `json:"due_date,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func entryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:             e.ID,
		TicketID:       e.TicketID,
		Kind:           string(e.Kind),
		Fund:           e.Fund,
		Instrument:     e.Instrument,
		Date:           e.Date.String(),
		Amount:         e.Amount.String(),
		AccrualType:    string(e.AccrualType),
		Capitalization: string(e.Capitalization),
		CashAccount:    e.CashAccount,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
	if !e.StartDate.IsZero() {
		dto.StartDate = e.StartDate.String()
	}
	if e.PaymentDate != nil {
		dto.PaymentDate = e.PaymentDate.String()
	}
	if !e.DueDate.IsZero() {
		dto.DueDate = e.DueDate.String()
	}
	return dto
}

// =============================================================================
// QUOTES
// =============================================================================

// RecordQuoteRequest registers a closing price for (instrument, date).
// RecordedOn defaults to today; a later value marks a back-filled quote.
type RecordQuoteRequest struct {
	Instrument string `json:"instrument"`
	Date       string `json:"date"`
	Price      string `json:"price"`
	RecordedOn string `json:"recorded_on,omitempty"`
}

// =============================================================================
// CLOSING RUNS
// =============================================================================

// RunClosingRequest triggers a batch closing at a reference date.
// ReferenceDate defaults to today.
type RunClosingRequest struct {
	ReferenceDate string `json:"reference_date,omitempty"`
}

// ClosingReportDTO summarizes one closing run.
type ClosingReportDTO struct {
	ReferenceDate string            `json:"reference_date"`
	Closed        int               `json:"closed"`
	Partial       int               `json:"partial"`
	Failed        int               `json:"failed"`
	Errors        map[string]string `json:"errors,omitempty"`
}

func reportDTO(r closing.Report) ClosingReportDTO {
	dto := ClosingReportDTO{
		ReferenceDate: r.ReferenceDate.String(),
		Closed:        r.Closed,
		Partial:       r.Partial,
		Failed:        r.Failed,
	}
	if len(r.Errors) > 0 {
		dto.Errors = make(map[string]string, len(r.Errors))
		for id, err := range r.Errors {
			dto.Errors[id] = err.Error()
		}
	}
	return dto
}

// =============================================================================
// CERTIFICATES
// =============================================================================

// CertificateDTO represents a liability certificate in API responses.
type CertificateDTO struct {
	ID              string `json:"id"`
	Fund            string `json:"fund"`
	Holder          string `json:"holder"`
	AcquisitionDate string `json:"acquisition_date"`
	UnitPrice       string `json:"unit_price"`
	UnitsAcquired   string `json:"units_acquired"`
	UnitsRemaining  string `json:"units_remaining"`
	Exhausted       bool   `json:"exhausted"`
}

func certificateDTO(c liability.Certificate) CertificateDTO {
	return CertificateDTO{
		ID:              c.ID,
		Fund:            c.Fund,
		Holder:          c.Holder,
		AcquisitionDate: c.AcquisitionDate.String(),
		UnitPrice:       c.UnitPrice.String(),
		UnitsAcquired:   c.UnitsAcquired.String(),
		UnitsRemaining:  c.UnitsRemaining.String(),
		Exhausted:       c.Exhausted(),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
