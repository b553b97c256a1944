package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricOrdersSubmittedTotal = "midfreq_orders_submitted_total"
	MetricOrdersFilledTotal    = "midfreq_orders_filled_total"
	MetricOrdersRejectedTotal  = "midfreq_orders_rejected_total"
	MetricOrdersFailedTotal    = "midfreq_orders_failed_total"
	MetricOrdersActive         = "midfreq_orders_active"
	MetricRiskRejectionsTotal  = "midfreq_risk_rejections_total"
	MetricFillsProcessedTotal  = "midfreq_fills_processed_total"
	MetricPnLRealizedTotal     = "midfreq_pnl_realized"
	MetricPnLUnrealized        = "midfreq_pnl_unrealized"
	MetricPositionSize         = "midfreq_position_size"
	MetricKillswitchActive     = "midfreq_killswitch_active"
	MetricDrawdownLockout      = "midfreq_drawdown_lockout"
	MetricVenueSubmitLatency   = "midfreq_venue_submit_latency_ms"
)

// MetricsHolder holds initialized instruments plus the state backing the
// observable gauges.
type MetricsHolder struct {
	OrdersSubmittedTotal metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersRejectedTotal  metric.Int64Counter
	OrdersFailedTotal    metric.Int64Counter
	OrdersActive         metric.Int64ObservableGauge
	RiskRejectionsTotal  metric.Int64Counter
	FillsProcessedTotal  metric.Int64Counter
	PnLRealized          metric.Float64ObservableGauge
	PnLUnrealized        metric.Float64ObservableGauge
	PositionSize         metric.Float64ObservableGauge
	KillswitchActive     metric.Int64ObservableGauge
	DrawdownLockout      metric.Int64ObservableGauge
	VenueSubmitLatency   metric.Float64Histogram

	mu              sync.RWMutex
	activeOrders    int64
	realizedPnL     float64
	unrealizedPnL   float64
	positionSizeMap map[string]float64
	killswitchOn    int64
	drawdownLockout int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments are
// created lazily in InitMetrics; before that every setter is a no-op write
// into holder state.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			positionSizeMap: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics creates the instruments on the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.OrdersSubmittedTotal, err = meter.Int64Counter(MetricOrdersSubmittedTotal,
		metric.WithDescription("Total orders submitted to venues")); err != nil {
		return err
	}
	if m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal,
		metric.WithDescription("Total orders completely filled")); err != nil {
		return err
	}
	if m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal,
		metric.WithDescription("Total orders rejected by venue or risk gate")); err != nil {
		return err
	}
	if m.OrdersFailedTotal, err = meter.Int64Counter(MetricOrdersFailedTotal,
		metric.WithDescription("Total orders failed on venue transport errors")); err != nil {
		return err
	}
	if m.RiskRejectionsTotal, err = meter.Int64Counter(MetricRiskRejectionsTotal,
		metric.WithDescription("Total pre-trade risk gate rejections")); err != nil {
		return err
	}
	if m.FillsProcessedTotal, err = meter.Int64Counter(MetricFillsProcessedTotal,
		metric.WithDescription("Total fills applied to the portfolio")); err != nil {
		return err
	}
	if m.VenueSubmitLatency, err = meter.Float64Histogram(MetricVenueSubmitLatency,
		metric.WithDescription("Venue submission latency in milliseconds")); err != nil {
		return err
	}

	if m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive,
		metric.WithDescription("Currently active (non-terminal) orders"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.activeOrders)
			return nil
		})); err != nil {
		return err
	}
	if m.PnLRealized, err = meter.Float64ObservableGauge(MetricPnLRealizedTotal,
		metric.WithDescription("Realized PnL"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.realizedPnL)
			return nil
		})); err != nil {
		return err
	}
	if m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized,
		metric.WithDescription("Unrealized PnL"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.unrealizedPnL)
			return nil
		})); err != nil {
		return err
	}
	if m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize,
		metric.WithDescription("Signed position quantity per instrument"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for instrument, size := range m.positionSizeMap {
				obs.Observe(size, metric.WithAttributes(attribute.String("instrument", instrument)))
			}
			return nil
		})); err != nil {
		return err
	}
	if m.KillswitchActive, err = meter.Int64ObservableGauge(MetricKillswitchActive,
		metric.WithDescription("1 when the global killswitch is active"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.killswitchOn)
			return nil
		})); err != nil {
		return err
	}
	if m.DrawdownLockout, err = meter.Int64ObservableGauge(MetricDrawdownLockout,
		metric.WithDescription("1 when the drawdown ceiling is breached"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.drawdownLockout)
			return nil
		})); err != nil {
		return err
	}

	return nil
}

// Counter helpers below tolerate being called before InitMetrics so unit
// tests do not need a telemetry setup.

// AddOrderSubmitted increments the submitted-orders counter.
func (m *MetricsHolder) AddOrderSubmitted(ctx context.Context, venue string) {
	if m.OrdersSubmittedTotal != nil {
		m.OrdersSubmittedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

// AddOrderFilled increments the filled-orders counter.
func (m *MetricsHolder) AddOrderFilled(ctx context.Context) {
	if m.OrdersFilledTotal != nil {
		m.OrdersFilledTotal.Add(ctx, 1)
	}
}

// AddOrderRejected increments the rejected-orders counter.
func (m *MetricsHolder) AddOrderRejected(ctx context.Context) {
	if m.OrdersRejectedTotal != nil {
		m.OrdersRejectedTotal.Add(ctx, 1)
	}
}

// AddOrderFailed increments the failed-orders counter.
func (m *MetricsHolder) AddOrderFailed(ctx context.Context) {
	if m.OrdersFailedTotal != nil {
		m.OrdersFailedTotal.Add(ctx, 1)
	}
}

// AddRiskRejection increments the risk-rejections counter with the
// violation kind attached.
func (m *MetricsHolder) AddRiskRejection(ctx context.Context, violation string) {
	if m.RiskRejectionsTotal != nil {
		m.RiskRejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("violation", violation)))
	}
}

// AddFillProcessed increments the fills-processed counter.
func (m *MetricsHolder) AddFillProcessed(ctx context.Context, instrument string) {
	if m.FillsProcessedTotal != nil {
		m.FillsProcessedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
	}
}

// RecordSubmitLatency records the venue submission latency.
func (m *MetricsHolder) RecordSubmitLatency(ctx context.Context, venue string, ms float64) {
	if m.VenueSubmitLatency != nil {
		m.VenueSubmitLatency.Record(ctx, ms, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

// SetActiveOrders records the current number of non-terminal orders.
func (m *MetricsHolder) SetActiveOrders(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrders = n
}

// SetPnL records the realized and unrealized PnL.
func (m *MetricsHolder) SetPnL(realized, unrealized float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realizedPnL = realized
	m.unrealizedPnL = unrealized
}

// SetPositionSize records the signed quantity for an instrument.
func (m *MetricsHolder) SetPositionSize(instrument string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size == 0 {
		delete(m.positionSizeMap, instrument)
		return
	}
	m.positionSizeMap[instrument] = size
}

// SetKillswitchActive records the killswitch state.
func (m *MetricsHolder) SetKillswitchActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killswitchOn = 0
	if active {
		m.killswitchOn = 1
	}
}

// SetDrawdownLockout records the drawdown-lockout state.
func (m *MetricsHolder) SetDrawdownLockout(locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawdownLockout = 0
	if locked {
		m.drawdownLockout = 1
	}
}
