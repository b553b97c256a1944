// Package router implements the smart order router: venue selection,
// submission supervision, and timeout cancellation.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	apperrors "github.com/puneethgb098/MidFrequencyTradingSystem/pkg/errors"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/retry"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/telemetry"
)

// Config holds router tuning.
type Config struct {
	// VenueOrder breaks score ties: earlier wins.
	VenueOrder      []string
	MonitorInterval time.Duration
	OrderTimeout    time.Duration
	SubmitRateLimit float64
	SubmitBurst     int
	UpdateBuffer    int
}

// routedOrder is the router's supervision record for one in-flight order.
type routedOrder struct {
	clientOrderID string
	venue         string
	venueOrderID  string
	submittedAt   time.Time
	cancelSent    bool
}

// Router implements core.IOrderRouter. Venue selection is greedy and
// stateless per call: score = base weight x historical fill rate, arg-max,
// ties broken by configuration order.
type Router struct {
	cfg     Config
	logger  core.ILogger
	limiter *rate.Limiter

	venueMu sync.RWMutex
	venues  map[string]core.IVenueAdapter
	weights map[string]float64

	perfMu sync.RWMutex
	perf   map[string]*core.VenuePerformance

	activeMu sync.Mutex
	active   map[string]*routedOrder

	updates chan *core.ExecutionUpdate

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a router. Venues are registered separately and resolved
// lazily per order; an unknown venue is a call-time error.
func New(cfg Config, logger core.ILogger) *Router {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 5 * time.Minute
	}
	if cfg.SubmitRateLimit <= 0 {
		cfg.SubmitRateLimit = 25
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 30
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 1024
	}

	return &Router{
		cfg:     cfg,
		logger:  logger.WithField("component", "order_router"),
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitRateLimit), cfg.SubmitBurst),
		venues:  make(map[string]core.IVenueAdapter),
		weights: make(map[string]float64),
		perf:    make(map[string]*core.VenuePerformance),
		active:  make(map[string]*routedOrder),
		updates: make(chan *core.ExecutionUpdate, cfg.UpdateBuffer),
	}
}

// RegisterVenue adds a venue adapter with its base selection weight.
func (r *Router) RegisterVenue(adapter core.IVenueAdapter, weight float64) {
	r.venueMu.Lock()
	r.venues[adapter.Name()] = adapter
	r.weights[adapter.Name()] = weight
	r.venueMu.Unlock()

	r.perfMu.Lock()
	r.perf[adapter.Name()] = &core.VenuePerformance{}
	r.perfMu.Unlock()
}

// Start launches the venue update streams and the monitoring loop.
func (r *Router) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.venueMu.RLock()
	adapters := make([]core.IVenueAdapter, 0, len(r.venues))
	for _, a := range r.venues {
		adapters = append(adapters, a)
	}
	r.venueMu.RUnlock()

	for _, adapter := range adapters {
		if err := adapter.StartUpdateStream(ctx, r.handleUpdate); err != nil {
			cancel()
			return fmt.Errorf("failed to start update stream for venue %s: %w", adapter.Name(), err)
		}
	}

	r.wg.Add(1)
	go r.monitorOrders(ctx)

	r.logger.Info("order router started",
		"venues", len(adapters),
		"monitor_interval", r.cfg.MonitorInterval.String(),
		"order_timeout", r.cfg.OrderTimeout.String(),
	)
	return nil
}

// Stop halts the monitor loop and the venue streams.
func (r *Router) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.venueMu.RLock()
	defer r.venueMu.RUnlock()
	for _, adapter := range r.venues {
		if err := adapter.StopUpdateStream(); err != nil {
			r.logger.Warn("failed to stop venue update stream", "venue", adapter.Name(), "error", err)
		}
	}
	close(r.updates)
	return nil
}

// Updates is the stream of execution updates the OMS consumes.
func (r *Router) Updates() <-chan *core.ExecutionUpdate {
	return r.updates
}

// selectVenue scores every registered venue and returns the arg-max.
func (r *Router) selectVenue() (string, error) {
	r.venueMu.RLock()
	defer r.venueMu.RUnlock()

	if len(r.venues) == 0 {
		return "", apperrors.ErrUnknownVenue
	}

	ordered := r.cfg.VenueOrder
	if len(ordered) == 0 {
		for name := range r.venues {
			ordered = append(ordered, name)
		}
	}

	r.perfMu.RLock()
	defer r.perfMu.RUnlock()

	best := ""
	bestScore := -1.0
	for _, name := range ordered {
		if _, ok := r.venues[name]; !ok {
			continue
		}
		score := r.weights[name]
		if perf, ok := r.perf[name]; ok {
			score *= perf.FillRate()
		}
		// Strict greater-than keeps configuration order on ties.
		if score > bestScore {
			best = name
			bestScore = score
		}
	}

	if best == "" {
		return "", apperrors.ErrUnknownVenue
	}
	return best, nil
}

// Submit selects a venue and submits the order. The returned venue order id
// acknowledges acceptance only; the fill outcome arrives later on the
// update stream. Submission failures are counted against the venue and
// returned to the caller, never retried here.
func (r *Router) Submit(ctx context.Context, order *core.Order) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	venueName, err := r.selectVenue()
	if err != nil {
		return "", err
	}

	r.venueMu.RLock()
	adapter, ok := r.venues[venueName]
	r.venueMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrUnknownVenue, venueName)
	}

	start := time.Now()
	venueOrderID, err := adapter.Submit(ctx, order)
	telemetry.GetGlobalMetrics().RecordSubmitLatency(ctx, venueName, float64(time.Since(start).Milliseconds()))

	r.perfMu.Lock()
	perf := r.perf[venueName]
	perf.TotalOrders++
	if err != nil {
		perf.FailedOrders++
	}
	r.perfMu.Unlock()

	if err != nil {
		r.logger.Error("venue submission failed",
			"venue", venueName,
			"client_order_id", order.ClientOrderID,
			"error", err,
		)
		return "", fmt.Errorf("venue %s: %w", venueName, err)
	}

	r.activeMu.Lock()
	r.active[order.ClientOrderID] = &routedOrder{
		clientOrderID: order.ClientOrderID,
		venue:         venueName,
		venueOrderID:  venueOrderID,
		submittedAt:   time.Now(),
	}
	r.activeMu.Unlock()

	telemetry.GetGlobalMetrics().AddOrderSubmitted(ctx, venueName)
	r.logger.Info("order routed",
		"venue", venueName,
		"client_order_id", order.ClientOrderID,
		"venue_order_id", venueOrderID,
	)
	return venueOrderID, nil
}

// Cancel requests cancellation at the owning venue. Unknown or already
// terminal orders are a no-op, not an error: the cancel may simply have
// lost the race against a fill.
func (r *Router) Cancel(ctx context.Context, clientOrderID string) (bool, error) {
	r.activeMu.Lock()
	ro, ok := r.active[clientOrderID]
	if ok {
		ro.cancelSent = true
	}
	r.activeMu.Unlock()
	if !ok {
		return false, nil
	}

	r.venueMu.RLock()
	adapter, exists := r.venues[ro.venue]
	r.venueMu.RUnlock()
	if !exists {
		return false, fmt.Errorf("%w: %s", apperrors.ErrUnknownVenue, ro.venue)
	}

	var accepted bool
	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		var cancelErr error
		accepted, cancelErr = adapter.Cancel(ctx, ro.venueOrderID)
		return cancelErr
	})
	if err != nil {
		return false, fmt.Errorf("venue %s cancel: %w", ro.venue, err)
	}
	return accepted, nil
}

func isTransient(err error) bool {
	return errors.Is(err, apperrors.ErrNetwork) || errors.Is(err, apperrors.ErrRateLimitExceeded)
}

// handleUpdate receives venue callbacks, maintains the performance table
// and the active set, and forwards the update to the OMS channel.
func (r *Router) handleUpdate(update *core.ExecutionUpdate) {
	r.activeMu.Lock()
	ro, known := r.active[update.ClientOrderID]
	terminal := update.Status == core.ExecComplete ||
		update.Status == core.ExecCancelled ||
		update.Status == core.ExecRejected
	if known && terminal {
		delete(r.active, update.ClientOrderID)
	}
	r.activeMu.Unlock()

	if known {
		r.perfMu.Lock()
		perf := r.perf[ro.venue]
		switch update.Status {
		case core.ExecComplete:
			perf.FilledOrders++
			fillTime := time.Since(ro.submittedAt)
			if perf.AvgFillTime == 0 {
				perf.AvgFillTime = fillTime
			} else {
				perf.AvgFillTime = (perf.AvgFillTime + fillTime) / 2
			}
		case core.ExecRejected:
			perf.RejectedOrders++
		}
		r.perfMu.Unlock()
	}

	select {
	case r.updates <- update:
	default:
		// The OMS consumer has stalled; dropping would lose a fill, so
		// block until there is room.
		r.updates <- update
	}
}

// monitorOrders is the only source of non-caller-initiated cancellation:
// any order older than the timeout without reaching a terminal state is
// cancelled exactly once.
func (r *Router) monitorOrders(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.cancelStale(ctx, now)
		}
	}
}

func (r *Router) cancelStale(ctx context.Context, now time.Time) {
	var stale []string

	r.activeMu.Lock()
	for id, ro := range r.active {
		if !ro.cancelSent && now.Sub(ro.submittedAt) > r.cfg.OrderTimeout {
			stale = append(stale, id)
		}
	}
	r.activeMu.Unlock()

	for _, id := range stale {
		r.logger.Warn("order timed out, cancelling", "client_order_id", id)
		if _, err := r.Cancel(ctx, id); err != nil {
			r.logger.Error("timeout cancellation failed", "client_order_id", id, "error", err)
		}
	}
}

// PerformanceMetrics returns a copy of the per-venue performance table.
func (r *Router) PerformanceMetrics() map[string]core.VenuePerformance {
	r.perfMu.RLock()
	defer r.perfMu.RUnlock()

	out := make(map[string]core.VenuePerformance, len(r.perf))
	for name, perf := range r.perf {
		out[name] = *perf
	}
	return out
}

// ActiveCount returns how many orders the router is supervising.
func (r *Router) ActiveCount() int {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	return len(r.active)
}
