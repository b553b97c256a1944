package router

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	apperrors "github.com/puneethgb098/MidFrequencyTradingSystem/pkg/errors"
)

// SimVenueConfig tunes the simulated venue's behaviour.
type SimVenueConfig struct {
	Name            string
	FillProbability float64
	MinFillDelay    time.Duration
	MaxFillDelay    time.Duration
}

// simOrder is one order the simulated venue is working.
type simOrder struct {
	order        *core.Order
	venueOrderID string
	done         bool
	cancelled    bool
}

// SimulatedVenue is an in-process venue adapter for testing and paper
// trading. Each submission is acknowledged immediately, then resolved
// after a randomized delay: filled with the configured probability,
// rejected otherwise. Limit orders fill at their limit price; market
// orders fill at the reference price with up to 0.1% slippage either way.
type SimulatedVenue struct {
	cfg    SimVenueConfig
	cache  core.ICache
	logger core.ILogger
	rng    *rand.Rand

	mu       sync.Mutex
	orders   map[string]*simOrder
	callback func(*core.ExecutionUpdate)
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimulatedVenue creates a simulated venue. The cache supplies
// reference prices for market order fills; it may be nil, in which case
// the order's own price is used.
func NewSimulatedVenue(cfg SimVenueConfig, cache core.ICache, logger core.ILogger) *SimulatedVenue {
	if cfg.Name == "" {
		cfg.Name = "simulation"
	}
	if cfg.FillProbability <= 0 {
		cfg.FillProbability = 0.9
	}
	if cfg.MinFillDelay <= 0 {
		cfg.MinFillDelay = 100 * time.Millisecond
	}
	if cfg.MaxFillDelay < cfg.MinFillDelay {
		cfg.MaxFillDelay = cfg.MinFillDelay + 400*time.Millisecond
	}

	return &SimulatedVenue{
		cfg:    cfg,
		cache:  cache,
		logger: logger.WithField("component", "sim_venue").WithField("venue", cfg.Name),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		orders: make(map[string]*simOrder),
	}
}

func (v *SimulatedVenue) Name() string { return v.cfg.Name }

// StartUpdateStream registers the update callback. The simulated venue has
// no transport; updates are produced by per-order goroutines.
func (v *SimulatedVenue) StartUpdateStream(ctx context.Context, callback func(*core.ExecutionUpdate)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return fmt.Errorf("update stream already started for %s", v.cfg.Name)
	}
	v.ctx, v.cancel = context.WithCancel(ctx)
	v.callback = callback
	v.running = true
	return nil
}

func (v *SimulatedVenue) StopUpdateStream() error {
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.running = false
	v.mu.Unlock()
	v.wg.Wait()
	return nil
}

// Submit acknowledges the order and schedules its resolution.
func (v *SimulatedVenue) Submit(ctx context.Context, order *core.Order) (string, error) {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return "", apperrors.ErrVenueUnavailable
	}
	venueOrderID := fmt.Sprintf("SIM-%s", uuid.NewString())
	so := &simOrder{order: order, venueOrderID: venueOrderID}
	v.orders[venueOrderID] = so
	delay := v.fillDelay()
	willFill := v.rng.Float64() < v.cfg.FillProbability
	v.mu.Unlock()

	v.wg.Add(1)
	go v.resolve(so, delay, willFill)

	v.logger.Debug("order accepted",
		"client_order_id", order.ClientOrderID,
		"venue_order_id", venueOrderID,
		"delay", delay.String(),
	)
	return venueOrderID, nil
}

// Cancel succeeds only while the order is still unresolved; losing the
// race against the fill returns false without error.
func (v *SimulatedVenue) Cancel(ctx context.Context, venueOrderID string) (bool, error) {
	v.mu.Lock()
	so, ok := v.orders[venueOrderID]
	if !ok {
		v.mu.Unlock()
		return false, nil
	}
	if so.done {
		v.mu.Unlock()
		return false, nil
	}
	so.done = true
	so.cancelled = true
	delete(v.orders, venueOrderID)
	v.mu.Unlock()

	v.emit(&core.ExecutionUpdate{
		ClientOrderID:  so.order.ClientOrderID,
		VenueOrderID:   venueOrderID,
		Venue:          v.cfg.Name,
		Status:         core.ExecCancelled,
		FilledQuantity: so.order.FilledQuantity,
		AveragePrice:   so.order.AveragePrice,
		Message:        "cancelled by request",
		Timestamp:      time.Now(),
	})
	return true, nil
}

// resolve completes one order after its simulated latency.
func (v *SimulatedVenue) resolve(so *simOrder, delay time.Duration, willFill bool) {
	defer v.wg.Done()

	select {
	case <-v.ctx.Done():
		return
	case <-time.After(delay):
	}

	v.mu.Lock()
	if so.done {
		v.mu.Unlock()
		return
	}
	so.done = true
	delete(v.orders, so.venueOrderID)
	v.mu.Unlock()

	update := &core.ExecutionUpdate{
		ClientOrderID: so.order.ClientOrderID,
		VenueOrderID:  so.venueOrderID,
		Venue:         v.cfg.Name,
		Timestamp:     time.Now(),
	}
	if willFill {
		update.Status = core.ExecComplete
		update.FilledQuantity = so.order.Quantity
		update.AveragePrice = v.fillPrice(so.order)
		update.Message = "filled"
	} else {
		update.Status = core.ExecRejected
		update.Message = "rejected by simulation"
	}
	v.emit(update)
}

// fillPrice returns the execution price: the limit price for limit orders,
// otherwise the latest reference price perturbed by up to +/-0.1%.
func (v *SimulatedVenue) fillPrice(order *core.Order) decimal.Decimal {
	if order.OrderType == core.OrderTypeLimit && !order.Price.IsZero() {
		return order.Price
	}

	ref := order.Price
	if v.cache != nil {
		if md, ok := v.cache.GetMarketData(order.Instrument); ok && !md.LastPrice.IsZero() {
			ref = md.LastPrice
		}
	}
	if ref.IsZero() {
		return ref
	}

	v.mu.Lock()
	deviation := (v.rng.Float64()*2 - 1) * 0.001
	v.mu.Unlock()
	return ref.Mul(decimal.NewFromFloat(1 + deviation))
}

func (v *SimulatedVenue) fillDelay() time.Duration {
	span := v.cfg.MaxFillDelay - v.cfg.MinFillDelay
	if span <= 0 {
		return v.cfg.MinFillDelay
	}
	return v.cfg.MinFillDelay + time.Duration(v.rng.Int63n(int64(span)))
}

func (v *SimulatedVenue) emit(update *core.ExecutionUpdate) {
	v.mu.Lock()
	cb := v.callback
	v.mu.Unlock()
	if cb != nil {
		cb(update)
	}
}
