// Package core defines the shared domain types and component interfaces
// for the order lifecycle pipeline.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the transaction direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType identifies how an order is priced at the venue.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderState is the OMS state machine state of an order.
type OrderState string

const (
	StatePendingRisk   OrderState = "PENDING_RISK"
	StatePendingSubmit OrderState = "PENDING_SUBMIT"
	StateSubmitted     OrderState = "SUBMITTED"
	StatePartialFill   OrderState = "PARTIAL_FILL"
	StateFilled        OrderState = "FILLED"
	StateCancelled     OrderState = "CANCELLED"
	StateRejected      OrderState = "REJECTED"
	StateFailed        OrderState = "FAILED"
)

// IsTerminal reports whether no further transitions are legal from this state.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateFailed:
		return true
	}
	return false
}

// ExecStatus is the venue-reported status of an order on its update stream.
type ExecStatus string

const (
	ExecOpen      ExecStatus = "OPEN"
	ExecPartial   ExecStatus = "PARTIAL"
	ExecComplete  ExecStatus = "COMPLETE"
	ExecCancelled ExecStatus = "CANCELLED"
	ExecRejected  ExecStatus = "REJECTED"
)

// OrderRequest is the immutable trading intent produced by a strategy.
// ClientOrderID is caller-generated and globally unique; it is the
// idempotency key for the whole pipeline.
type OrderRequest struct {
	ClientOrderID   string
	StrategyID      string
	Instrument      string
	Quantity        int64
	Price           decimal.Decimal
	OrderType       OrderType
	TransactionType Side
	TimeInForce     string
}

// Notional returns quantity * price.
func (r *OrderRequest) Notional() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Quantity))
}

// SignedQuantity returns the quantity signed by transaction direction.
func (r *OrderRequest) SignedQuantity() int64 {
	return r.TransactionType.Sign() * r.Quantity
}

// Order is the mutable lifecycle record owned by the OMS, keyed by
// client order id. VenueOrderID is empty until the venue accepts it.
type Order struct {
	ClientOrderID   string
	VenueOrderID    string
	StrategyID      string
	Instrument      string
	Quantity        int64
	Price           decimal.Decimal
	OrderType       OrderType
	TransactionType Side
	TimeInForce     string
	State           OrderState
	FilledQuantity  int64
	AveragePrice    decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExecutionUpdate is an asynchronous status report from a venue adapter.
// FilledQuantity and AveragePrice are cumulative, not deltas; the venue is
// the source of truth for fill progress.
type ExecutionUpdate struct {
	ClientOrderID  string
	VenueOrderID   string
	Venue          string
	Status         ExecStatus
	FilledQuantity int64
	AveragePrice   decimal.Decimal
	Message        string
	Timestamp      time.Time
}

// Fill is a (partial or full) execution applied to the portfolio.
type Fill struct {
	ID              string
	ClientOrderID   string
	Instrument      string
	TransactionType Side
	Quantity        int64
	Price           decimal.Decimal
	Timestamp       time.Time
}

// Position is the per-instrument holding. Quantity is signed: positive
// long, negative short. A closed position is deleted, never kept at zero.
type Position struct {
	Instrument   string
	Quantity     int64
	AveragePrice decimal.Decimal
	LastPrice    decimal.Decimal
	LastUpdate   time.Time
}

// MarketValue returns quantity * last price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.LastPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL returns qty * (last - avg); zero when no mark is known.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	if p.LastPrice.IsZero() {
		return decimal.Zero
	}
	return p.LastPrice.Sub(p.AveragePrice).Mul(decimal.NewFromInt(p.Quantity))
}

// PortfolioState is a read-only snapshot of the portfolio aggregate.
type PortfolioState struct {
	Cash          decimal.Decimal
	Positions     map[string]Position
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TotalPnL      decimal.Decimal
	LastUpdate    time.Time
}

// SignalType classifies a strategy signal.
type SignalType string

const (
	SignalEntry  SignalType = "entry"
	SignalExit   SignalType = "exit"
	SignalAdjust SignalType = "adjust"
)

// Signal is the strategy-facing trading intent checked by the risk manager
// before it becomes an OrderRequest. Confidence is passed through for
// logging only.
type Signal struct {
	StrategyID string
	Instrument string
	Side       Side
	Quantity   int64
	SignalType SignalType
	Confidence float64
	Timestamp  time.Time
}

// MarketData is the latest tick snapshot for an instrument.
type MarketData struct {
	Instrument string
	LastPrice  decimal.Decimal
	BidPrice   decimal.Decimal
	AskPrice   decimal.Decimal
	Volume     int64
	Timestamp  time.Time
}

// RiskViolationType is the machine-readable kind of an admission rejection.
type RiskViolationType string

const (
	ViolationPositionLimit RiskViolationType = "POSITION_LIMIT"
	ViolationNotionalLimit RiskViolationType = "NOTIONAL_LIMIT"
	ViolationPriceCollar   RiskViolationType = "PRICE_COLLAR"
	ViolationOrderRate     RiskViolationType = "ORDER_RATE"
	ViolationDailyLoss     RiskViolationType = "DAILY_LOSS"
	ViolationKillswitch    RiskViolationType = "KILLSWITCH"
)

// RiskCheckResult is the outcome of the pre-trade risk gate. Rejections are
// values, not errors: they always carry a violation kind and message.
type RiskCheckResult struct {
	Passed        bool
	ViolationType RiskViolationType
	Message       string
	Timestamp     time.Time
}

// VenuePerformance tracks observed execution quality for one venue.
type VenuePerformance struct {
	TotalOrders    int64
	FilledOrders   int64
	RejectedOrders int64
	FailedOrders   int64
	AvgFillTime    time.Duration
}

// FillRate returns filled/total, or 1.0 while no history exists so a new
// venue scores at its configured base weight.
func (v *VenuePerformance) FillRate() float64 {
	if v.TotalOrders == 0 {
		return 1.0
	}
	return float64(v.FilledOrders) / float64(v.TotalOrders)
}
