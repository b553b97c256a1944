// Package oms owns the order lifecycle: it is the only component that
// transitions order state, from risk admission through venue routing to
// a terminal state.
package oms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/bus"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	apperrors "github.com/puneethgb098/MidFrequencyTradingSystem/pkg/errors"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/telemetry"
)

// FillHandler receives each incremental fill the OMS derives from
// cumulative venue updates. Handlers must tolerate redelivery: the fill id
// is stable for a given progress point.
type FillHandler func(ctx context.Context, fill *core.Fill)

// managedOrder pairs the order record with its transition lock. All state
// transitions for one client order id are serialized on mu; orders for
// different ids proceed concurrently.
type managedOrder struct {
	mu    sync.Mutex
	order *core.Order
}

// Manager implements the order management system.
type Manager struct {
	gate      core.IRiskGate
	router    core.IOrderRouter
	store     core.IOrderStore
	publisher *bus.EventPublisher
	logger    core.ILogger

	onFill FillHandler

	mu     sync.RWMutex
	orders map[string]*managedOrder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an OMS. The store may be nil (no persistence); the publisher
// may be nil (no event emission).
func New(gate core.IRiskGate, router core.IOrderRouter, store core.IOrderStore, publisher *bus.EventPublisher, logger core.ILogger) *Manager {
	return &Manager{
		gate:      gate,
		router:    router,
		store:     store,
		publisher: publisher,
		logger:    logger.WithField("component", "oms"),
		orders:    make(map[string]*managedOrder),
	}
}

// OnFill registers the fill sink. Must be called before Start.
func (m *Manager) OnFill(handler FillHandler) {
	m.onFill = handler
}

// Start launches the execution update consumer.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.consumeUpdates(ctx)

	m.logger.Info("oms started")
	return nil
}

// Stop halts the update consumer. In-flight venue orders are left to the
// router's timeout supervision.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return nil
}

// SubmitOrder runs the admission pipeline for one order request:
// PENDING_RISK, then either REJECTED, or PENDING_SUBMIT and a venue
// submission which ends in SUBMITTED or FAILED. Resubmitting an id that is
// already tracked returns the existing record untouched. Risk rejections
// are reflected in the returned order's state, not as an error.
func (m *Manager) SubmitOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order := &core.Order{
		ClientOrderID:   req.ClientOrderID,
		StrategyID:      req.StrategyID,
		Instrument:      req.Instrument,
		Quantity:        req.Quantity,
		Price:           req.Price,
		OrderType:       req.OrderType,
		TransactionType: req.TransactionType,
		TimeInForce:     req.TimeInForce,
		State:           core.StatePendingRisk,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	m.mu.Lock()
	if existing, ok := m.orders[req.ClientOrderID]; ok {
		m.mu.Unlock()
		existing.mu.Lock()
		snapshot := *existing.order
		existing.mu.Unlock()
		m.logger.Warn("duplicate submission, returning existing order",
			"client_order_id", req.ClientOrderID,
			"state", string(snapshot.State),
		)
		return &snapshot, nil
	}
	mo := &managedOrder{order: order}
	m.orders[req.ClientOrderID] = mo
	active := len(m.orders)
	m.mu.Unlock()

	telemetry.GetGlobalMetrics().SetActiveOrders(int64(active))

	mo.mu.Lock()
	defer mo.mu.Unlock()

	result := m.gate.CheckOrder(req)
	if !result.Passed {
		m.transitionLocked(ctx, mo, core.StateRejected, result.Message)
		telemetry.GetGlobalMetrics().AddOrderRejected(ctx)
		snapshot := *mo.order
		return &snapshot, nil
	}

	mo.order.State = core.StatePendingSubmit
	mo.order.UpdatedAt = time.Now()

	venueOrderID, err := m.router.Submit(ctx, mo.order)
	if err != nil {
		m.transitionLocked(ctx, mo, core.StateFailed, err.Error())
		telemetry.GetGlobalMetrics().AddOrderFailed(ctx)
		snapshot := *mo.order
		return &snapshot, fmt.Errorf("submission failed: %w", err)
	}

	mo.order.VenueOrderID = venueOrderID
	mo.order.State = core.StateSubmitted
	mo.order.UpdatedAt = time.Now()
	if m.publisher != nil {
		m.publisher.PublishOrderEvent(mo.order, "submitted to venue")
	}

	snapshot := *mo.order
	return &snapshot, nil
}

// CancelOrder requests cancellation. It returns false without error when
// the order is unknown, not yet at a venue, or already terminal; the
// actual CANCELLED transition arrives on the update stream.
func (m *Manager) CancelOrder(ctx context.Context, clientOrderID string) (bool, error) {
	m.mu.RLock()
	mo, ok := m.orders[clientOrderID]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}

	mo.mu.Lock()
	state := mo.order.State
	mo.mu.Unlock()

	if state != core.StateSubmitted && state != core.StatePartialFill {
		return false, nil
	}
	return m.router.Cancel(ctx, clientOrderID)
}

// GetOrder returns a copy of the tracked order, falling back to the
// persistent history for ids that have already reached a terminal state.
func (m *Manager) GetOrder(ctx context.Context, clientOrderID string) (*core.Order, error) {
	m.mu.RLock()
	mo, ok := m.orders[clientOrderID]
	m.mu.RUnlock()
	if ok {
		mo.mu.Lock()
		snapshot := *mo.order
		mo.mu.Unlock()
		return &snapshot, nil
	}

	if m.store != nil {
		return m.store.LoadOrder(ctx, clientOrderID)
	}
	return nil, apperrors.ErrOrderNotFound
}

// ActiveOrders returns copies of all non-terminal orders. The map snapshot
// is taken before any per-order lock: terminal transitions acquire m.mu
// while holding mo.mu, so holding both here would invert that order.
func (m *Manager) ActiveOrders() []*core.Order {
	m.mu.RLock()
	managed := make([]*managedOrder, 0, len(m.orders))
	for _, mo := range m.orders {
		managed = append(managed, mo)
	}
	m.mu.RUnlock()

	out := make([]*core.Order, 0, len(managed))
	for _, mo := range managed {
		mo.mu.Lock()
		snapshot := *mo.order
		mo.mu.Unlock()
		out = append(out, &snapshot)
	}
	return out
}

func (m *Manager) consumeUpdates(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-m.router.Updates():
			if !ok {
				return
			}
			m.handleExecutionUpdate(ctx, update)
		}
	}
}

// handleExecutionUpdate applies one venue update. The venue's cumulative
// filled quantity and average price overwrite local values; the fill
// forwarded to the portfolio is the increment since the last update.
func (m *Manager) handleExecutionUpdate(ctx context.Context, update *core.ExecutionUpdate) {
	m.mu.RLock()
	mo, ok := m.orders[update.ClientOrderID]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warn("execution update for unknown order, dropping",
			"client_order_id", update.ClientOrderID,
			"venue_order_id", update.VenueOrderID,
			"status", string(update.Status),
		)
		return
	}

	mo.mu.Lock()
	defer mo.mu.Unlock()

	if mo.order.State.IsTerminal() {
		m.logger.Warn("execution update after terminal state, dropping",
			"client_order_id", update.ClientOrderID,
			"state", string(mo.order.State),
		)
		return
	}

	prevFilled := mo.order.FilledQuantity
	prevAvg := mo.order.AveragePrice
	if update.FilledQuantity >= prevFilled {
		mo.order.FilledQuantity = update.FilledQuantity
		if !update.AveragePrice.IsZero() {
			mo.order.AveragePrice = update.AveragePrice
		}
	}

	delta := mo.order.FilledQuantity - prevFilled
	if delta > 0 && m.onFill != nil {
		m.onFill(ctx, &core.Fill{
			// The cumulative quantity makes the id stable across
			// redeliveries of the same progress point.
			ID:              fmt.Sprintf("%s:%d", update.ClientOrderID, mo.order.FilledQuantity),
			ClientOrderID:   update.ClientOrderID,
			Instrument:      mo.order.Instrument,
			TransactionType: mo.order.TransactionType,
			Quantity:        delta,
			Price:           incrementPrice(prevFilled, prevAvg, mo.order.FilledQuantity, mo.order.AveragePrice),
			Timestamp:       update.Timestamp,
		})
		telemetry.GetGlobalMetrics().AddFillProcessed(ctx, mo.order.Instrument)
	}

	switch update.Status {
	case core.ExecPartial:
		mo.order.State = core.StatePartialFill
		mo.order.UpdatedAt = time.Now()
	case core.ExecComplete:
		m.transitionLocked(ctx, mo, core.StateFilled, update.Message)
		telemetry.GetGlobalMetrics().AddOrderFilled(ctx)
	case core.ExecCancelled:
		m.transitionLocked(ctx, mo, core.StateCancelled, update.Message)
	case core.ExecRejected:
		m.transitionLocked(ctx, mo, core.StateRejected, update.Message)
		telemetry.GetGlobalMetrics().AddOrderRejected(ctx)
	case core.ExecOpen:
		mo.order.UpdatedAt = time.Now()
	}
}

// transitionLocked moves an order into a terminal state: it publishes the
// event, persists the record, and drops it from the active set. Callers
// hold mo.mu.
func (m *Manager) transitionLocked(ctx context.Context, mo *managedOrder, state core.OrderState, message string) {
	mo.order.State = state
	mo.order.UpdatedAt = time.Now()

	if m.publisher != nil {
		m.publisher.PublishOrderEvent(mo.order, message)
	}
	if m.store != nil {
		if err := m.store.SaveOrder(ctx, mo.order); err != nil {
			m.logger.Error("failed to persist terminal order",
				"client_order_id", mo.order.ClientOrderID,
				"error", err,
			)
		}
	}

	m.mu.Lock()
	delete(m.orders, mo.order.ClientOrderID)
	active := len(m.orders)
	m.mu.Unlock()
	telemetry.GetGlobalMetrics().SetActiveOrders(int64(active))

	m.logger.Info("order terminal",
		"client_order_id", mo.order.ClientOrderID,
		"state", string(state),
		"filled_quantity", mo.order.FilledQuantity,
		"message", message,
	)
}

// incrementPrice recovers the price of the latest increment from the
// cumulative averages: (newQty*newAvg - oldQty*oldAvg) / delta.
func incrementPrice(oldQty int64, oldAvg decimal.Decimal, newQty int64, newAvg decimal.Decimal) decimal.Decimal {
	delta := newQty - oldQty
	if delta <= 0 {
		return newAvg
	}
	newNotional := newAvg.Mul(decimal.NewFromInt(newQty))
	oldNotional := oldAvg.Mul(decimal.NewFromInt(oldQty))
	return newNotional.Sub(oldNotional).Div(decimal.NewFromInt(delta))
}

func validateRequest(req *core.OrderRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", apperrors.ErrInvalidOrderParam)
	}
	if req.ClientOrderID == "" {
		return fmt.Errorf("%w: empty client order id", apperrors.ErrInvalidOrderParam)
	}
	if req.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", apperrors.ErrInvalidOrderParam)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", apperrors.ErrInvalidOrderParam)
	}
	if req.TransactionType != core.SideBuy && req.TransactionType != core.SideSell {
		return fmt.Errorf("%w: invalid transaction type %q", apperrors.ErrInvalidOrderParam, req.TransactionType)
	}
	if req.OrderType == core.OrderTypeLimit && req.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: limit order requires positive price", apperrors.ErrInvalidOrderParam)
	}
	return nil
}
