package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IVenueAdapter is the contract every execution venue implements. Submit
// returns the venue-assigned order id or an error; Cancel is keyed by the
// venue order id and reports whether the venue accepted the cancel. Status
// updates are delivered asynchronously through the stream callback and must
// echo the caller-supplied client order id.
type IVenueAdapter interface {
	Name() string
	Submit(ctx context.Context, order *Order) (string, error)
	Cancel(ctx context.Context, venueOrderID string) (bool, error)
	StartUpdateStream(ctx context.Context, callback func(*ExecutionUpdate)) error
	StopUpdateStream() error
}

// IRiskGate is the synchronous pre-trade admission control.
type IRiskGate interface {
	CheckOrder(req *OrderRequest) RiskCheckResult
	ActivateKillswitch(reason string)
	DeactivateKillswitch()
	KillswitchActive() bool
	UpdateDailyPnL(pnl decimal.Decimal)
}

// IOrderRouter selects a venue for a ready order and supervises it until
// terminal. Submission is acknowledged before the fill outcome is known.
type IOrderRouter interface {
	Submit(ctx context.Context, order *Order) (string, error)
	Cancel(ctx context.Context, clientOrderID string) (bool, error)
	Updates() <-chan *ExecutionUpdate
	Start(ctx context.Context) error
	Stop() error
}

// IPortfolioEngine is the single writer of position and cash state.
type IPortfolioEngine interface {
	ProcessFill(ctx context.Context, fill *Fill) error
	GetPosition(instrument string) (Position, bool)
	Snapshot() PortfolioState
	MarkPrice(instrument string, price decimal.Decimal)
}

// IRiskManager is the coarse signal-level admission gate with continuous
// portfolio metric tracking.
type IRiskManager interface {
	CheckSignal(signal *Signal) bool
	UpdateMarketPrices(prices map[string]decimal.Decimal)
	Start(ctx context.Context) error
	Stop() error
}

// IEventBus is an append-only, per-topic ordered log with consumer groups
// and explicit acknowledgement. Fields are flat string maps.
type IEventBus interface {
	Publish(topic string, fields map[string]string, maxLen int) (string, error)
	Subscribe(ctx context.Context, topic, group, consumer string, callback func(id string, fields map[string]string) error) error
}

// ICache is the shared key-value snapshot store with domain accessors used
// by the risk gate and risk manager.
type ICache interface {
	Set(key string, value any, ttl time.Duration)
	Get(key string) (any, bool)
	Delete(key string)
	GetPosition(instrument string) (Position, bool)
	SetPosition(pos Position)
	DeletePosition(instrument string)
	GetMarketData(instrument string) (MarketData, bool)
	SetMarketData(md MarketData)
}

// IOrderStore persists the append-only order history.
type IOrderStore interface {
	SaveOrder(ctx context.Context, order *Order) error
	LoadOrder(ctx context.Context, clientOrderID string) (*Order, error)
	LoadHistory(ctx context.Context, limit int) ([]*Order, error)
	Close() error
}

// ILogger is the structured logging interface implemented by pkg/logging.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
