package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/closing"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/liability"
	"github.com/warp/settlement-engine/marketdata"
	"github.com/warp/settlement-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP - full stack on an in-memory database
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *api.Handler) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	prices := marketdata.NewMemoryPrices()
	lots := liability.NewTracker()
	led := ledger.New(st, zerolog.Nop())
	engine := &closing.Engine{
		Ledger:   led,
		Prices:   prices,
		Calendar: marketdata.NewHolidayCalendar(),
		Lots:     lots,
		Book:     st.Book(),
		Log:      zerolog.Nop(),
	}
	h := &api.Handler{
		Store:  st,
		Ledger: led,
		Engine: engine,
		Runner: closing.NewRunner(engine, 2, zerolog.Nop()),
		Prices: prices,
		Lots:   lots,
		Log:    zerolog.Nop(),
	}

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, h
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func equityRequest() api.CreateTicketRequest {
	qty, price, costs := "100", "25.50", "10"
	return api.CreateTicketRequest{
		Kind:           "equity",
		Op:             "buy",
		Fund:           "FUND-A",
		Instrument:     "PETR4",
		CashAccount:    "CASH-1",
		TradeDate:      "2026-03-02",
		SettlementDate: "2026-03-04",
		Quantity:       &qty,
		Price:          &price,
		Costs:          costs,
	}
}

// =============================================================================
// TICKET LIFECYCLE OVER HTTP
// =============================================================================

func TestAPI_CreateAndCloseEquityTicket(t *testing.T) {
	// GIVEN: a registered equity buy
	// WHEN: a closing run at the trade date
	// THEN: the four entries land and the ticket reads done

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tickets", equityRequest())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	var created api.TicketDTO
	decode(t, resp, &created)
	if created.State != "new" {
		t.Errorf("initial state = %s, want new", created.State)
	}

	resp = postJSON(t, srv.URL+"/api/closings/run",
		api.RunClosingRequest{ReferenceDate: "2026-03-02"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run: status %d", resp.StatusCode)
	}
	var report api.ClosingReportDTO
	decode(t, resp, &report)
	if report.Closed != 1 || report.Failed != 0 {
		t.Fatalf("report: closed=%d failed=%d errors=%v", report.Closed, report.Failed, report.Errors)
	}

	resp, err := http.Get(srv.URL + "/api/tickets/" + created.ID)
	if err != nil {
		t.Fatalf("GET ticket: %v", err)
	}
	var after api.TicketDTO
	decode(t, resp, &after)
	if after.State != "done" {
		t.Errorf("state after run = %s, want done", after.State)
	}

	resp, err = http.Get(srv.URL + "/api/tickets/" + created.ID + "/entries")
	if err != nil {
		t.Fatalf("GET entries: %v", err)
	}
	var entries []api.EntryDTO
	decode(t, resp, &entries)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
}

func TestAPI_InvalidTicketRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	req := equityRequest()
	badPrice := "-1"
	req.Price = &badPrice

	resp := postJSON(t, srv.URL+"/api/tickets", req)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_UnknownTicket404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tickets/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAPI_MalformedOptionalBodyRejected(t *testing.T) {
	// GIVEN: endpoints whose JSON body is optional
	// WHEN: a body is sent but is not valid JSON
	// THEN: 400, not a silent run at today's date

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tickets", equityRequest())
	var created api.TicketDTO
	decode(t, resp, &created)

	for _, url := range []string{
		srv.URL + "/api/closings/run",
		srv.URL + "/api/tickets/" + created.ID + "/close",
	} {
		resp, err := http.Post(url, "application/json", bytes.NewReader([]byte("{not json")))
		if err != nil {
			t.Fatalf("POST %s: %v", url, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %s: status = %d, want 400", url, resp.StatusCode)
		}
	}

	// An empty body still means "run at today".
	resp, err := http.Post(srv.URL+"/api/closings/run", "application/json", nil)
	if err != nil {
		t.Fatalf("POST empty body: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("empty body: status = %d, want 200", resp.StatusCode)
	}
}

// =============================================================================
// ACCRUAL VALUATION OVER HTTP
// =============================================================================

func TestAPI_AccruedValueCompoundsBusinessDays(t *testing.T) {
	// GIVEN: a closed daily-capitalized loan
	// WHEN: the accrual is valued two weeks after the trade date
	// THEN: the value compounds over business days only

	srv, _ := newTestServer(t)

	qty, price := "1", "1000"
	resp := postJSON(t, srv.URL+"/api/tickets", api.CreateTicketRequest{
		Kind:           "loan",
		Op:             "buy",
		Fund:           "FUND-A",
		Instrument:     "LOAN-1",
		CashAccount:    "CASH-1",
		TradeDate:      "2026-03-02",
		SettlementDate: "2026-03-16",
		Quantity:       &qty,
		Price:          &price,
		Rate:           "0.001",
		Capitalization: "daily",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	var created api.TicketDTO
	decode(t, resp, &created)

	resp = postJSON(t, srv.URL+"/api/closings/run",
		api.RunClosingRequest{ReferenceDate: "2026-03-02"})
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/tickets/" + created.ID + "/accrual?at=2026-03-16")
	if err != nil {
		t.Fatalf("GET accrual: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accrual: status %d", resp.StatusCode)
	}
	var body struct {
		AccruedValue string `json:"accrued_value"`
	}
	decode(t, resp, &body)

	// Mon Mar 2 to Mon Mar 16 spans 10 business days, not 14 calendar days.
	want := ledger.Compound(ledger.MustDecimal("1000"), ledger.MustDecimal("0.001"), 10)
	if got := ledger.MustDecimal(body.AccruedValue); !got.Equal(want) {
		t.Errorf("accrued value = %s, want %s", got, want)
	}
}

func TestAPI_AccrualMissing404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tickets", equityRequest())
	var created api.TicketDTO
	decode(t, resp, &created)

	// No closing ran, so no accrual exists yet.
	resp, err := http.Get(srv.URL + "/api/tickets/" + created.ID + "/accrual")
	if err != nil {
		t.Fatalf("GET accrual: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// =============================================================================
// QUOTE-DRIVEN CLOSING OVER HTTP
// =============================================================================

func TestAPI_LocalFundWaitsForQuote(t *testing.T) {
	// GIVEN: a local fund subscription by financial amount, no quote yet
	// WHEN: a quote is recorded and the run repeats
	// THEN: the partial closing completes

	srv, _ := newTestServer(t)

	financial := "130000"
	resp := postJSON(t, srv.URL+"/api/tickets", api.CreateTicketRequest{
		Kind:           "local_fund",
		Op:             "subscribe",
		Fund:           "FUND-A",
		Instrument:     "LF-1",
		CashAccount:    "CASH-1",
		TradeDate:      "2026-06-01",
		QuotationDate:  "2026-06-02",
		SettlementDate: "2026-06-05",
		Financial:      &financial,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	var created api.TicketDTO
	decode(t, resp, &created)

	resp = postJSON(t, srv.URL+"/api/closings/run",
		api.RunClosingRequest{ReferenceDate: "2026-06-02"})
	var report api.ClosingReportDTO
	decode(t, resp, &report)
	if report.Partial != 1 {
		t.Fatalf("without a quote the ticket stays partial: %+v", report)
	}

	resp = postJSON(t, srv.URL+"/api/quotes", api.RecordQuoteRequest{
		Instrument: "LF-1",
		Date:       "2026-06-02",
		Price:      "1300",
		RecordedOn: "2026-06-02",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("quote: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/closings/run",
		api.RunClosingRequest{ReferenceDate: "2026-06-02"})
	decode(t, resp, &report)
	if report.Closed != 1 {
		t.Fatalf("with the quote the ticket closes: %+v", report)
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/tickets/%s/entries", srv.URL, created.ID))
	if err != nil {
		t.Fatalf("GET entries: %v", err)
	}
	var entries []api.EntryDTO
	decode(t, resp, &entries)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries after completion, got %d", len(entries))
	}
}

// =============================================================================
// CERTIFICATES OVER HTTP
// =============================================================================

func TestAPI_CertificatesListed(t *testing.T) {
	srv, h := newTestServer(t)

	_, err := h.Lots.Subscribe("FUND-P", "FUND-A",
		ledger.NewDate(2026, 1, 5), ledger.MustDecimal("10"), ledger.MustDecimal("1000"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/funds/FUND-P/holders/FUND-A/certificates")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body struct {
		TotalRemaining string               `json:"total_remaining"`
		Certificates   []api.CertificateDTO `json:"certificates"`
	}
	decode(t, resp, &body)
	if len(body.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(body.Certificates))
	}
	if body.TotalRemaining != "1000" {
		t.Errorf("total remaining = %s, want 1000", body.TotalRemaining)
	}
}
