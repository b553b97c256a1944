package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
)

// MockRouter implements core.IOrderRouter with a test-controlled update
// stream. Submissions are acknowledged synchronously; tests push execution
// updates through PushUpdate or the Fill/Cancel helpers.
type MockRouter struct {
	mu             sync.Mutex
	submitted      map[string]*core.Order
	cancelled      []string
	orderIDCounter int64
	submitErr      error

	updates chan *core.ExecutionUpdate
}

func NewMockRouter() *MockRouter {
	return &MockRouter{
		submitted: make(map[string]*core.Order),
		updates:   make(chan *core.ExecutionUpdate, 64),
	}
}

// FailSubmissions makes every Submit return err until reset with nil.
func (m *MockRouter) FailSubmissions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

func (m *MockRouter) Submit(ctx context.Context, order *core.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.orderIDCounter++
	copied := *order
	m.submitted[order.ClientOrderID] = &copied
	return fmt.Sprintf("RTR-%d", m.orderIDCounter), nil
}

func (m *MockRouter) Cancel(ctx context.Context, clientOrderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.submitted[clientOrderID]; !ok {
		return false, nil
	}
	m.cancelled = append(m.cancelled, clientOrderID)
	return true, nil
}

func (m *MockRouter) Updates() <-chan *core.ExecutionUpdate {
	return m.updates
}

func (m *MockRouter) Start(ctx context.Context) error { return nil }

func (m *MockRouter) Stop() error {
	close(m.updates)
	return nil
}

// Submitted reports whether the router saw a submission for the id.
func (m *MockRouter) Submitted(clientOrderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.submitted[clientOrderID]
	return ok
}

// CancelRequests returns the client order ids cancellation was requested for.
func (m *MockRouter) CancelRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

// PushUpdate injects an execution update into the stream the OMS consumes.
func (m *MockRouter) PushUpdate(update *core.ExecutionUpdate) {
	m.updates <- update
}

// Fill pushes a cumulative fill update for a submitted order.
func (m *MockRouter) Fill(clientOrderID string, cumQty int64, avgPrice decimal.Decimal, complete bool) {
	status := core.ExecPartial
	if complete {
		status = core.ExecComplete
	}
	m.PushUpdate(&core.ExecutionUpdate{
		ClientOrderID:  clientOrderID,
		Status:         status,
		FilledQuantity: cumQty,
		AveragePrice:   avgPrice,
		Timestamp:      time.Now(),
	})
}

// CancelAck pushes a terminal cancellation update.
func (m *MockRouter) CancelAck(clientOrderID string) {
	m.PushUpdate(&core.ExecutionUpdate{
		ClientOrderID: clientOrderID,
		Status:        core.ExecCancelled,
		Message:       "cancelled",
		Timestamp:     time.Now(),
	})
}
