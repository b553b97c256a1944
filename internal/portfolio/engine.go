// Package portfolio implements the portfolio engine, the single
// authoritative writer of position and cash state. Everyone else reads
// snapshots.
package portfolio

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/bus"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/telemetry"
)

// processedFillTTL bounds the dedup map; a venue replaying a fill hours
// later is a reconciliation problem, not a dedup problem.
const processedFillTTL = time.Hour

// Engine implements core.IPortfolioEngine. Every fill mutates cash,
// realized PnL, and the position map together, so fill application is
// serialized on the single state lock.
type Engine struct {
	commission *CommissionModel
	cache      core.ICache
	events     *bus.EventPublisher
	logger     core.ILogger

	stateMu       sync.RWMutex
	cash          decimal.Decimal
	positions     map[string]*core.Position
	realizedPnL   decimal.Decimal
	unrealizedPnL decimal.Decimal
	lastUpdate    time.Time

	// At-most-once fill application.
	processedMu    sync.Mutex
	processedFills map[string]time.Time

	onUpdate func(totalPnL decimal.Decimal)
}

// NewEngine creates a portfolio engine with the given starting cash.
func NewEngine(initialCash decimal.Decimal, commission *CommissionModel, store core.ICache, events *bus.EventPublisher, logger core.ILogger) *Engine {
	return &Engine{
		commission:     commission,
		cache:          store,
		events:         events,
		logger:         logger.WithField("component", "portfolio_engine"),
		cash:           initialCash,
		positions:      make(map[string]*core.Position),
		processedFills: make(map[string]time.Time),
	}
}

// OnUpdate registers a callback invoked with the total PnL after every
// processed fill. Used to feed the risk gate's daily-loss tracker.
func (e *Engine) OnUpdate(callback func(totalPnL decimal.Decimal)) {
	e.onUpdate = callback
}

// markProcessed records a fill id, returning false if it was already seen.
func (e *Engine) markProcessed(id string) bool {
	if id == "" {
		return true
	}
	now := time.Now()

	e.processedMu.Lock()
	defer e.processedMu.Unlock()

	for k, ts := range e.processedFills {
		if now.Sub(ts) > processedFillTTL {
			delete(e.processedFills, k)
		}
	}

	if _, seen := e.processedFills[id]; seen {
		return false
	}
	e.processedFills[id] = now
	return true
}

// ProcessFill applies one execution to position and cash state. Delivery is
// at-most-once: a duplicate fill id is dropped without effect.
func (e *Engine) ProcessFill(ctx context.Context, fill *core.Fill) error {
	if fill.Quantity <= 0 {
		return fmt.Errorf("fill quantity must be positive, got %d", fill.Quantity)
	}
	if !e.markProcessed(fill.ID) {
		e.logger.Warn("duplicate fill dropped", "fill_id", fill.ID, "client_order_id", fill.ClientOrderID)
		return nil
	}

	delta := fill.TransactionType.Sign() * fill.Quantity
	commission := e.commission.Calculate(fill.Quantity, fill.Price)

	e.applyDelta(fill.Instrument, delta, fill.Price, commission)

	e.recomputeUnrealized()
	e.publishUpdate()
	telemetry.GetGlobalMetrics().AddFillProcessed(ctx, fill.Instrument)

	e.logger.Info("fill processed",
		"instrument", fill.Instrument,
		"delta", delta,
		"price", fill.Price.String(),
		"commission", commission.String(),
	)

	if e.onUpdate != nil {
		e.stateMu.RLock()
		total := e.realizedPnL.Add(e.unrealizedPnL)
		e.stateMu.RUnlock()
		e.onUpdate(total)
	}

	return nil
}

// applyDelta runs the position read-modify-write under the state lock.
// Cash is adjusted exactly once, synchronized with the position.
func (e *Engine) applyDelta(instrument string, delta int64, price, commission decimal.Decimal) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	deltaDec := decimal.NewFromInt(delta)
	now := time.Now()

	pos, exists := e.positions[instrument]
	switch {
	case !exists:
		pos = &core.Position{
			Instrument:   instrument,
			Quantity:     delta,
			AveragePrice: price,
			LastPrice:    price,
			LastUpdate:   now,
		}
		e.positions[instrument] = pos

	case sameSign(pos.Quantity, delta):
		// Increasing exposure: quantity-weighted average price blend.
		oldQty := decimal.NewFromInt(pos.Quantity)
		newQty := pos.Quantity + delta
		pos.AveragePrice = oldQty.Mul(pos.AveragePrice).
			Add(deltaDec.Mul(price)).
			Div(decimal.NewFromInt(newQty))
		pos.Quantity = newQty
		pos.LastPrice = price
		pos.LastUpdate = now

	default:
		// Reducing, closing, or reversing: realize PnL on the overlap.
		closeQty := min(abs64(pos.Quantity), abs64(delta))
		direction := decimal.NewFromInt(sign64(pos.Quantity))
		realized := decimal.NewFromInt(closeQty).
			Mul(price.Sub(pos.AveragePrice)).
			Mul(direction)
		e.realizedPnL = e.realizedPnL.Add(realized)

		newQty := pos.Quantity + delta
		switch {
		case newQty == 0:
			delete(e.positions, instrument)
			e.cache.DeletePosition(instrument)
			pos = nil
		case sameSign(newQty, pos.Quantity):
			// Reduced: average entry price is unchanged.
			pos.Quantity = newQty
			pos.LastPrice = price
			pos.LastUpdate = now
		default:
			// Reversed: the surviving quantity was opened at this fill.
			pos.Quantity = newQty
			pos.AveragePrice = price
			pos.LastPrice = price
			pos.LastUpdate = now
		}
	}

	e.cash = e.cash.Sub(deltaDec.Mul(price)).Sub(commission)
	e.lastUpdate = now

	if pos != nil {
		e.cache.SetPosition(*pos)
		telemetry.GetGlobalMetrics().SetPositionSize(instrument, float64(pos.Quantity))
	} else {
		telemetry.GetGlobalMetrics().SetPositionSize(instrument, 0)
	}
}

// MarkPrice records a new market price for an instrument and refreshes the
// unrealized PnL aggregate.
func (e *Engine) MarkPrice(instrument string, price decimal.Decimal) {
	e.stateMu.Lock()
	if pos, ok := e.positions[instrument]; ok {
		pos.LastPrice = price
		e.cache.SetPosition(*pos)
	}
	e.stateMu.Unlock()

	e.recomputeUnrealized()
}

// recomputeUnrealized re-aggregates qty*(last-avg) over every open
// position. Pure read and aggregate: idempotent, safe to run any time.
func (e *Engine) recomputeUnrealized() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	total := decimal.Zero
	for _, pos := range e.positions {
		total = total.Add(pos.UnrealizedPnL())
	}
	e.unrealizedPnL = total
	e.lastUpdate = time.Now()

	r, _ := e.realizedPnL.Float64()
	u, _ := e.unrealizedPnL.Float64()
	telemetry.GetGlobalMetrics().SetPnL(r, u)
}

func (e *Engine) publishUpdate() {
	e.stateMu.RLock()
	fields := map[string]string{
		"cash":           e.cash.String(),
		"realized_pnl":   e.realizedPnL.String(),
		"unrealized_pnl": e.unrealizedPnL.String(),
		"total_pnl":      e.realizedPnL.Add(e.unrealizedPnL).String(),
		"position_count": strconv.Itoa(len(e.positions)),
	}
	e.stateMu.RUnlock()

	e.events.PublishRiskEvent(bus.EventPortfolioUpdate, fields)
}

// GetPosition returns a copy of the position for an instrument.
func (e *Engine) GetPosition(instrument string) (core.Position, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	pos, ok := e.positions[instrument]
	if !ok {
		return core.Position{}, false
	}
	return *pos, true
}

// Snapshot returns a read-only copy of the portfolio aggregate.
func (e *Engine) Snapshot() core.PortfolioState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	positions := make(map[string]core.Position, len(e.positions))
	for k, v := range e.positions {
		positions[k] = *v
	}

	return core.PortfolioState{
		Cash:          e.cash,
		Positions:     positions,
		RealizedPnL:   e.realizedPnL,
		UnrealizedPnL: e.unrealizedPnL,
		TotalPnL:      e.realizedPnL.Add(e.unrealizedPnL),
		LastUpdate:    e.lastUpdate,
	}
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign64(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}
