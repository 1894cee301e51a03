/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes ticket registration, quote recording, closing runs and ledger
  queries via REST. Handles HTTP request/response, JSON serialization, and
  delegates to domain logic.

ENDPOINTS:
  Tickets:
    POST   /api/tickets                      Register a trade ticket
    GET    /api/tickets/{id}                 Ticket with lifecycle state
    GET    /api/tickets/{id}/entries         Ledger entries for the ticket
    GET    /api/tickets/{id}/accrual         Accrued value at a date
    POST   /api/tickets/{id}/close           Close one ticket at a date

  Market data:
    POST   /api/quotes                       Record a fund quote

  Closings:
    POST   /api/closings/run                 Batch closing run

  Certificates:
    GET    /api/funds/{fund}/holders/{holder}/certificates

  Health:
    GET    /api/health

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Ticket not found
  - 409: Insufficient certificate units
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/closing"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/liability"
	"github.com/warp/settlement-engine/marketdata"
	"github.com/warp/settlement-engine/store/sqlite"
	"github.com/warp/settlement-engine/ticket"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Ledger *ledger.Ledger
	Engine *closing.Engine
	Runner *closing.Runner
	Prices *marketdata.MemoryPrices
	Lots   *liability.Tracker
	Log    zerolog.Logger
}

// =============================================================================
// TICKET HANDLERS
// =============================================================================

// CreateTicket registers a new trade ticket. The ticket is cleaned before
// it is stored; validation failures never reach the book.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req CreateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := ticketFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ticket", err)
		return
	}
	if err := t.Clean(); err != nil {
		writeError(w, http.StatusBadRequest, "Ticket validation failed", err)
		return
	}

	if err := h.Store.AppendTicket(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store ticket", err)
		return
	}

	h.Log.Info().
		Str("ticket_id", t.ID).
		Str("kind", string(t.Kind)).
		Str("fund", t.Fund).
		Str("instrument", t.Instrument).
		Msg("ticket registered")

	writeJSON(w, http.StatusCreated, ticketDTO(t))
}

// GetTicket returns a single ticket with its lifecycle state.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, ok, err := h.Store.GetTicket(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ticket", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Ticket not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, ticketDTO(t))
}

// GetTicketEntries returns the ledger entries posted for a ticket.
func (h *Handler) GetTicketEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.Store.ByTicket(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = entryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTicketAccrual values the ticket's accrual at a date (query parameter
// "at", defaulting to today). Daily capitalization compounds per business
// day on the instrument's calendar.
func (h *Handler) GetTicketAccrual(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	at, err := refDate(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at date", err)
		return
	}

	t, ok, err := h.Store.GetTicket(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ticket", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Ticket not found", nil)
		return
	}

	value, ok, err := h.Engine.AccruedValueAt(r.Context(), t, at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to value accrual", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Ticket has no accrual", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ticket_id":     t.ID,
		"at":            at.String(),
		"accrued_value": value.String(),
	})
}

// CloseTicket closes a single ticket at a reference date.
func (h *Handler) CloseTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RunClosingRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ref, err := refDate(req.ReferenceDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reference date", err)
		return
	}

	t, ok, err := h.Store.GetTicket(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ticket", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Ticket not found", nil)
		return
	}

	res, err := h.Engine.Close(r.Context(), t, ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Store.UpdateTicket(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update ticket", err)
		return
	}

	posted := make([]EntryDTO, len(res.Posted))
	for i, e := range res.Posted {
		posted[i] = entryDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":       ticketDTO(t),
		"fully_closed": res.FullyClosed,
		"posted":       posted,
	})
}

// =============================================================================
// MARKET DATA HANDLERS
// =============================================================================

// RecordQuote registers a closing price. Quotes recorded after the date
// they price are back-fills; postings they unlock are dated by the
// recorded date, never earlier.
func (h *Handler) RecordQuote(w http.ResponseWriter, r *http.Request) {
	var req RecordQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Instrument == "" {
		writeError(w, http.StatusBadRequest, "Instrument is required", nil)
		return
	}

	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	recordedOn := ledger.Today()
	if req.RecordedOn != "" {
		if recordedOn, err = ledger.ParseDate(req.RecordedOn); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid recorded_on date", err)
			return
		}
	}

	h.Prices.Record(req.Instrument, date, price, recordedOn)

	h.Log.Info().
		Str("instrument", req.Instrument).
		Stringer("date", date).
		Str("price", price.String()).
		Stringer("recorded_on", recordedOn).
		Msg("quote recorded")

	writeJSON(w, http.StatusCreated, map[string]string{
		"instrument":  req.Instrument,
		"date":        date.String(),
		"price":       price.String(),
		"recorded_on": recordedOn.String(),
	})
}

// =============================================================================
// CLOSING RUN HANDLERS
// =============================================================================

// RunClosing closes every open ticket at the reference date and reports
// the outcome per ticket.
func (h *Handler) RunClosing(w http.ResponseWriter, r *http.Request) {
	var req RunClosingRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ref, err := refDate(req.ReferenceDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reference date", err)
		return
	}

	open, err := h.Store.OpenTickets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load open tickets", err)
		return
	}

	report := h.Runner.Run(r.Context(), open, ref)

	for _, t := range open {
		if err := h.Store.UpdateTicket(r.Context(), t); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update ticket state", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, reportDTO(report))
}

// =============================================================================
// CERTIFICATE HANDLERS
// =============================================================================

// ListCertificates returns a holder's certificates in a fund, exhausted
// ones included.
func (h *Handler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	fund := chi.URLParam(r, "fund")
	holder := chi.URLParam(r, "holder")

	certs := h.Lots.Certificates(fund, holder)
	dtos := make([]CertificateDTO, len(certs))
	for i, c := range certs {
		dtos[i] = certificateDTO(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fund":            fund,
		"holder":          holder,
		"total_remaining": h.Lots.TotalRemaining(fund, holder).String(),
		"certificates":    dtos,
	})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

func ticketFromRequest(req CreateTicketRequest) (*ticket.Ticket, error) {
	t := ticket.New(ticket.Kind(req.Kind), ticket.OperationKind(req.Op),
		req.Fund, req.Instrument, req.CashAccount)
	t.Holder = req.Holder
	t.Managed = req.Managed
	t.Reversible = req.Reversible

	var err error
	if t.TradeDate, err = ledger.ParseDate(req.TradeDate); err != nil {
		return nil, &ledger.InvalidFieldError{Field: "trade_date", Reason: err.Error()}
	}
	if t.SettlementDate, err = ledger.ParseDate(req.SettlementDate); err != nil {
		return nil, &ledger.InvalidFieldError{Field: "settlement_date", Reason: err.Error()}
	}
	if req.QuotationDate != "" {
		if t.QuotationDate, err = ledger.ParseDate(req.QuotationDate); err != nil {
			return nil, &ledger.InvalidFieldError{Field: "quotation_date", Reason: err.Error()}
		}
	}
	if req.ReversalDate != "" {
		d, err := ledger.ParseDate(req.ReversalDate)
		if err != nil {
			return nil, &ledger.InvalidFieldError{Field: "reversal_date", Reason: err.Error()}
		}
		t.ReversalDate = &d
	}

	if t.Quantity, err = parseDecPtr(req.Quantity, "quantity"); err != nil {
		return nil, err
	}
	if t.Price, err = parseDecPtr(req.Price, "price"); err != nil {
		return nil, err
	}
	if t.Financial, err = parseDecPtr(req.Financial, "financial"); err != nil {
		return nil, err
	}
	if req.Costs != "" {
		if t.Costs, err = decimal.NewFromString(req.Costs); err != nil {
			return nil, &ledger.InvalidFieldError{Field: "costs", Reason: err.Error()}
		}
	}
	if req.Rate != "" {
		if t.Rate, err = decimal.NewFromString(req.Rate); err != nil {
			return nil, &ledger.InvalidFieldError{Field: "rate", Reason: err.Error()}
		}
	}
	if req.Capitalization != "" {
		t.Capitalization = ledger.Capitalization(req.Capitalization)
	}
	return t, nil
}

func parseDecPtr(s *string, field string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, &ledger.InvalidFieldError{Field: field, Reason: err.Error()}
	}
	return &d, nil
}

// decodeOptional decodes a JSON body that the endpoint treats as optional.
// An absent or empty body leaves v untouched; a malformed one is an error.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func refDate(s string) (ledger.Date, error) {
	if s == "" {
		return ledger.Today(), nil
	}
	return ledger.ParseDate(s)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, ledger.ErrInsufficientUnits):
		writeError(w, http.StatusConflict, "Insufficient certificate units", err)
	default:
		writeError(w, http.StatusInternalServerError, "Closing failed", err)
	}
}
