// Package mock provides in-memory doubles for tests: a scriptable venue
// adapter and a deterministic router.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	apperrors "github.com/puneethgb098/MidFrequencyTradingSystem/pkg/errors"
)

// MockVenue implements core.IVenueAdapter for testing. By default every
// submission is acknowledged and left open; tests drive outcomes by
// calling EmitUpdate or the Fill/Reject/Cancel helpers.
type MockVenue struct {
	name string

	mu             sync.Mutex
	orders         map[string]*core.Order
	clientOrderMap map[string]string
	orderIDCounter int64
	callback       func(*core.ExecutionUpdate)

	// Overrides
	submitErr error
	cancelErr error
}

func NewMockVenue(name string) *MockVenue {
	return &MockVenue{
		name:           name,
		orders:         make(map[string]*core.Order),
		clientOrderMap: make(map[string]string),
		orderIDCounter: 1000,
	}
}

// FailSubmissions makes every Submit return err until reset with nil.
func (m *MockVenue) FailSubmissions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// FailCancels makes every Cancel return err until reset with nil.
func (m *MockVenue) FailCancels(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr = err
}

func (m *MockVenue) Name() string {
	return m.name
}

func (m *MockVenue) Submit(ctx context.Context, order *core.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitErr != nil {
		return "", m.submitErr
	}

	// Idempotency: resubmitting a known client order id returns the
	// existing venue order id.
	if existing, ok := m.clientOrderMap[order.ClientOrderID]; ok {
		return existing, nil
	}

	m.orderIDCounter++
	venueOrderID := fmt.Sprintf("MOCK-%d", m.orderIDCounter)
	copied := *order
	m.orders[venueOrderID] = &copied
	m.clientOrderMap[order.ClientOrderID] = venueOrderID
	return venueOrderID, nil
}

func (m *MockVenue) Cancel(ctx context.Context, venueOrderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelErr != nil {
		return false, m.cancelErr
	}
	_, ok := m.orders[venueOrderID]
	return ok, nil
}

func (m *MockVenue) StartUpdateStream(ctx context.Context, callback func(*core.ExecutionUpdate)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
	return nil
}

func (m *MockVenue) StopUpdateStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = nil
	return nil
}

// SubmittedOrders returns how many distinct orders the venue accepted.
func (m *MockVenue) SubmittedOrders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// VenueOrderID looks up the venue order id for a client order id.
func (m *MockVenue) VenueOrderID(clientOrderID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.clientOrderMap[clientOrderID]
	return id, ok
}

// EmitUpdate pushes an arbitrary execution update through the stream
// callback, synchronously.
func (m *MockVenue) EmitUpdate(update *core.ExecutionUpdate) error {
	m.mu.Lock()
	cb := m.callback
	m.mu.Unlock()
	if cb == nil {
		return apperrors.ErrStreamClosed
	}
	cb(update)
	return nil
}

// Fill emits a cumulative fill for a known client order id.
func (m *MockVenue) Fill(clientOrderID string, cumQty int64, avgPrice decimal.Decimal, complete bool) error {
	m.mu.Lock()
	venueOrderID, ok := m.clientOrderMap[clientOrderID]
	m.mu.Unlock()
	if !ok {
		return apperrors.ErrOrderNotFound
	}

	status := core.ExecPartial
	if complete {
		status = core.ExecComplete
	}
	return m.EmitUpdate(&core.ExecutionUpdate{
		ClientOrderID:  clientOrderID,
		VenueOrderID:   venueOrderID,
		Venue:          m.name,
		Status:         status,
		FilledQuantity: cumQty,
		AveragePrice:   avgPrice,
		Timestamp:      time.Now(),
	})
}

// Reject emits a terminal rejection for a known client order id.
func (m *MockVenue) Reject(clientOrderID, reason string) error {
	m.mu.Lock()
	venueOrderID, ok := m.clientOrderMap[clientOrderID]
	m.mu.Unlock()
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	return m.EmitUpdate(&core.ExecutionUpdate{
		ClientOrderID: clientOrderID,
		VenueOrderID:  venueOrderID,
		Venue:         m.name,
		Status:        core.ExecRejected,
		Message:       reason,
		Timestamp:     time.Now(),
	})
}

// CancelAck emits a terminal cancellation for a known client order id.
func (m *MockVenue) CancelAck(clientOrderID string) error {
	m.mu.Lock()
	venueOrderID, ok := m.clientOrderMap[clientOrderID]
	m.mu.Unlock()
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	return m.EmitUpdate(&core.ExecutionUpdate{
		ClientOrderID: clientOrderID,
		VenueOrderID:  venueOrderID,
		Venue:         m.name,
		Status:        core.ExecCancelled,
		Message:       "cancelled",
		Timestamp:     time.Now(),
	})
}
