/*
Package ticket defines the trade ticket (boleta) and its lifecycle.

PURPOSE:
  A Ticket records one financial operation - a buy/sell, a fund
  subscription/redemption, a loan, or a liability mirror - awaiting
  settlement. The closing engine reads tickets; this package owns their
  shape, operation polarity, field validation and the offshore lifecycle
  states.

KEY CONCEPTS:
  - OperationKind carries polarity: buys/subscriptions are positive,
    sells/redemptions negative. sign(quantity) == polarity at all times
    after cleaning.
  - Quantity and Price may be nil until a quote resolves them; the
    financial amount is then supplied directly and quantity back-solved.
  - Fund tickets carry a quotation date distinct from the settlement date
    and an explicit lifecycle State.

SEE ALSO:
  - clean.go: field validation and normalization
  - financial.go: financial-amount resolution
  - closing/: the state machine that drives State
*/
package ticket

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// OPERATION KIND - Polarity-bearing
// =============================================================================

type OperationKind string

const (
	OpBuy       OperationKind = "buy"
	OpSell      OperationKind = "sell"
	OpSubscribe OperationKind = "subscribe"
	OpRedeem    OperationKind = "redeem"
)

// Polarity returns +1 for acquiring operations, -1 for disposing ones.
func (op OperationKind) Polarity() int {
	switch op {
	case OpBuy, OpSubscribe:
		return 1
	case OpSell, OpRedeem:
		return -1
	default:
		return 0
	}
}

// =============================================================================
// TICKET KIND - Closed set of instrument variants
// =============================================================================

type Kind string

const (
	Equity              Kind = "equity"
	LocalFixedIncome    Kind = "local_fixed_income"
	OffshoreFixedIncome Kind = "offshore_fixed_income"
	LocalFund           Kind = "local_fund"
	OffshoreFund        Kind = "offshore_fund"
	Loan                Kind = "loan"
	Liability           Kind = "liability"
)

// HasQuotationDate reports whether this variant settles against a fund
// quote rather than a traded price.
func (k Kind) HasQuotationDate() bool {
	return k == LocalFund || k == OffshoreFund || k == Liability
}

// =============================================================================
// OFFSHORE LIFECYCLE STATE
// =============================================================================

// State is the offshore-fund closing lifecycle. The generic closers use
// only StateNew and StateDone.
type State string

const (
	StateNew                         State = "new"
	StatePendingQuotationSettlement  State = "pending_quotation_and_settlement"
	StatePendingSettlement           State = "pending_settlement"
	StatePendingQuotation            State = "pending_quotation"
	StatePendingSettlementQuoteInfo  State = "pending_settlement_and_quote_info"
	StatePendingQuoteInfo            State = "pending_quote_info"
	StateDone                        State = "done"
)

// Settled reports whether the ticket finished its lifecycle. A ticket
// waiting on quote information answers false; incompleteness is a steady
// state, not a fault.
func (s State) Settled() bool { return s == StateDone }

// =============================================================================
// TICKET
// =============================================================================

type Ticket struct {
	ID          string
	Kind        Kind
	Op          OperationKind
	Fund        string // owning fund (book)
	Instrument  string
	CashAccount string // target account for provisions
	Holder      string // certificate holder, liability tickets only

	TradeDate      ledger.Date
	SettlementDate ledger.Date
	QuotationDate  ledger.Date // fund variants only

	Quantity  *decimal.Decimal // signed; nil until resolved
	Price     *decimal.Decimal // nil until a quote is known
	Financial *decimal.Decimal // supplied directly when price/quantity pend
	Costs     decimal.Decimal  // transaction costs, unsigned

	// Accrual terms
	Rate           decimal.Decimal // per-period accrual rate (loans, CPR valuation)
	Capitalization ledger.Capitalization

	// Managed means the traded instrument is a pooled liability of a fund
	// under this system's management; closing mirrors a Liability ticket.
	Managed bool

	// Loan terms
	Reversible   bool
	ReversalDate *ledger.Date

	// ParentID links a Liability ticket back to the originating trade.
	ParentID string

	State     State
	CreatedAt time.Time
}

// New creates a ticket with a fresh ID and its initial lifecycle state.
// Call Clean before handing it to the closing engine.
func New(kind Kind, op OperationKind, fund, instrument, cashAccount string) *Ticket {
	t := &Ticket{
		ID:             uuid.NewString(),
		Kind:           kind,
		Op:             op,
		Fund:           fund,
		Instrument:     instrument,
		CashAccount:    cashAccount,
		Capitalization: ledger.CapNone,
		State:          StateNew,
		CreatedAt:      time.Now().UTC(),
	}
	if kind == OffshoreFund {
		t.State = StatePendingQuotationSettlement
	}
	return t
}

// Settled reports whether this ticket's lifecycle is complete.
func (t *Ticket) Settled() bool { return t.State.Settled() }
