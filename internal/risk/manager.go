// Package risk implements the continuous risk manager: portfolio-level
// limit tracking and the coarse signal-level admission gate that runs
// before a signal ever becomes an order request.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/bus"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/config"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/telemetry"
)

// zScore95 and zScore99 are the one-sided normal quantiles used by the
// parametric VaR estimate.
var (
	zScore95 = decimal.NewFromFloat(1.645)
	zScore99 = decimal.NewFromFloat(2.326)
)

// Metrics is a snapshot of the manager's portfolio risk metrics.
type Metrics struct {
	Equity       decimal.Decimal
	PeakEquity   decimal.Decimal
	Drawdown     decimal.Decimal
	VaR95        decimal.Decimal
	VaR99        decimal.Decimal
	SharpeRatio  decimal.Decimal
	LockedOut    bool
	LastComputed time.Time
}

// Manager implements core.IRiskManager. It reads portfolio snapshots and
// live prices; it never mutates position state.
type Manager struct {
	cfg       config.RiskManagerConfig
	portfolio core.IPortfolioEngine
	events    *bus.EventPublisher
	logger    core.ILogger

	mu         sync.RWMutex
	prices     map[string]decimal.Decimal
	peakEquity decimal.Decimal
	drawdown   decimal.Decimal
	var95      decimal.Decimal
	var99      decimal.Decimal
	sharpe     decimal.Decimal
	lockedOut  bool
	lastVaR    time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a risk manager over the given portfolio engine.
func NewManager(cfg config.RiskManagerConfig, portfolio core.IPortfolioEngine, events *bus.EventPublisher, logger core.ILogger) *Manager {
	return &Manager{
		cfg:       cfg,
		portfolio: portfolio,
		events:    events,
		logger:    logger.WithField("component", "risk_manager"),
		prices:    make(map[string]decimal.Decimal),
	}
}

// Start launches the monitor and metric loops.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	monitorEvery := time.Duration(m.cfg.MonitorIntervalSeconds) * time.Second
	if monitorEvery <= 0 {
		monitorEvery = time.Minute
	}
	// VaR is recomputed periodically, not on every tick, to bound cost.
	metricsEvery := time.Duration(m.cfg.MetricsIntervalSeconds) * time.Second
	if metricsEvery <= 0 {
		metricsEvery = 5 * time.Minute
	}

	m.computeVaR()

	m.wg.Add(2)
	go m.loop(ctx, monitorEvery, m.monitorOnce)
	go m.loop(ctx, metricsEvery, m.computeVaR)

	m.logger.Info("risk manager started",
		"monitor_interval", monitorEvery.String(),
		"metrics_interval", metricsEvery.String(),
	)
	return nil
}

// Stop halts the background loops.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) loop(ctx context.Context, every time.Duration, fn func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// UpdateMarketPrices records new marks and refreshes equity/drawdown.
func (m *Manager) UpdateMarketPrices(prices map[string]decimal.Decimal) {
	m.mu.Lock()
	for instrument, price := range prices {
		m.prices[instrument] = price
	}
	m.mu.Unlock()

	m.refreshDrawdown()
}

func (m *Manager) equity() decimal.Decimal {
	snap := m.portfolio.Snapshot()
	equity := snap.Cash
	for _, pos := range snap.Positions {
		equity = equity.Add(pos.MarketValue())
	}
	return equity
}

// refreshDrawdown tracks running-peak equity and the fractional decline
// from it. Lockout trips when the decline exceeds the configured ceiling
// and clears when the portfolio recovers.
func (m *Manager) refreshDrawdown() {
	equity := m.equity()

	m.mu.Lock()
	if equity.GreaterThan(m.peakEquity) {
		m.peakEquity = equity
	}
	if m.peakEquity.IsPositive() {
		m.drawdown = m.peakEquity.Sub(equity).Div(m.peakEquity)
	}

	ceiling := decimal.NewFromFloat(m.cfg.MaxDrawdownPct)
	wasLocked := m.lockedOut
	m.lockedOut = m.drawdown.GreaterThan(ceiling)
	nowLocked := m.lockedOut
	drawdown := m.drawdown
	m.mu.Unlock()

	if nowLocked != wasLocked {
		telemetry.GetGlobalMetrics().SetDrawdownLockout(nowLocked)
		if nowLocked {
			m.logger.Error("drawdown ceiling breached, only risk-reducing signals allowed", "drawdown", drawdown.String())
			m.events.PublishRiskEvent(bus.EventDrawdownLockout, map[string]string{
				"drawdown": drawdown.String(),
			})
		} else {
			m.logger.Info("drawdown recovered, lockout cleared", "drawdown", drawdown.String())
		}
	}
}

// computeVaR runs the parametric estimate off recent volatility. The fixed
// volatility fraction is configurable policy, not a calibrated model.
func (m *Manager) computeVaR() {
	equity := m.equity()
	vol := equity.Mul(decimal.NewFromFloat(m.cfg.DailyVolatilityPct))

	m.mu.Lock()
	m.var95 = zScore95.Mul(vol)
	m.var99 = zScore99.Mul(vol)
	if vol.IsPositive() {
		// Placeholder Sharpe from assumed excess return over assumed vol.
		m.sharpe = decimal.NewFromFloat(0.10).Div(decimal.NewFromFloat(0.15))
	}
	m.lastVaR = time.Now()
	m.mu.Unlock()
}

func (m *Manager) monitorOnce() {
	m.refreshDrawdown()

	m.mu.RLock()
	drawdown := m.drawdown
	var95 := m.var95
	m.mu.RUnlock()

	if drawdown.GreaterThan(decimal.NewFromFloat(m.cfg.MaxDrawdownPct)) {
		m.logger.Warn("maximum drawdown exceeded", "drawdown", drawdown.String())
	}

	maxVaR := m.equity().Mul(decimal.NewFromFloat(m.cfg.MaxVaRPct))
	if var95.GreaterThan(maxVaR) {
		m.logger.Warn("VaR limit exceeded", "var_95", var95.String(), "max_var", maxVaR.String())
	}
}

// CheckSignal reports whether a strategy signal may proceed to the OMS.
// All rejections are logged with the failing check.
func (m *Manager) CheckSignal(signal *core.Signal) bool {
	if signal.Quantity <= 0 {
		m.logger.Warn("signal rejected: non-positive quantity", "instrument", signal.Instrument)
		return false
	}

	if !m.checkPositionValue(signal) {
		m.logger.Warn("signal rejected: position value check failed", "instrument", signal.Instrument, "confidence", signal.Confidence)
		return false
	}
	if !m.checkPortfolioValue() {
		m.logger.Warn("signal rejected: portfolio value check failed", "instrument", signal.Instrument)
		return false
	}
	if !m.checkDrawdown(signal) {
		m.logger.Warn("signal rejected: drawdown lockout", "instrument", signal.Instrument)
		return false
	}
	if !m.checkVaR(signal) {
		m.logger.Warn("signal rejected: VaR lockout", "instrument", signal.Instrument)
		return false
	}

	return true
}

func (m *Manager) currentQuantity(instrument string) int64 {
	if pos, ok := m.portfolio.GetPosition(instrument); ok {
		return pos.Quantity
	}
	return 0
}

// checkPositionValue bounds both the absolute position value and its share
// of total equity.
func (m *Manager) checkPositionValue(signal *core.Signal) bool {
	m.mu.RLock()
	price, ok := m.prices[signal.Instrument]
	m.mu.RUnlock()
	if !ok {
		// No mark yet: value checks cannot run, defer to the order-level gate.
		return true
	}

	newQty := m.currentQuantity(signal.Instrument) + signal.Side.Sign()*signal.Quantity
	value := price.Mul(decimal.NewFromInt(abs64(newQty)))

	if value.GreaterThan(decimal.NewFromFloat(m.cfg.MaxPositionValue)) {
		return false
	}

	equity := m.equity()
	if equity.IsPositive() {
		share := value.Div(equity)
		if share.GreaterThan(decimal.NewFromFloat(m.cfg.MaxConcentrationPct)) {
			return false
		}
	}
	return true
}

func (m *Manager) checkPortfolioValue() bool {
	return m.equity().LessThanOrEqual(decimal.NewFromFloat(m.cfg.MaxPortfolioValue))
}

// isRiskReducing reports whether a signal shrinks an existing position.
func (m *Manager) isRiskReducing(signal *core.Signal) bool {
	current := m.currentQuantity(signal.Instrument)
	if current == 0 {
		return false
	}
	// Opposite-signed orders reduce exposure.
	return (current > 0 && signal.Side == core.SideSell) ||
		(current < 0 && signal.Side == core.SideBuy)
}

// checkDrawdown permits only risk-reducing signals while locked out.
func (m *Manager) checkDrawdown(signal *core.Signal) bool {
	m.mu.RLock()
	locked := m.lockedOut
	m.mu.RUnlock()

	if !locked {
		return true
	}
	return m.isRiskReducing(signal)
}

// checkVaR permits only position-closing signals while the VaR estimate
// exceeds the configured share of equity.
func (m *Manager) checkVaR(signal *core.Signal) bool {
	m.mu.RLock()
	var95 := m.var95
	m.mu.RUnlock()

	maxVaR := m.equity().Mul(decimal.NewFromFloat(m.cfg.MaxVaRPct))
	if var95.LessThanOrEqual(maxVaR) {
		return true
	}

	return m.isRiskReducing(signal)
}

// GetMetrics returns a snapshot of the current risk metrics.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		Equity:       m.equity(),
		PeakEquity:   m.peakEquity,
		Drawdown:     m.drawdown,
		VaR95:        m.var95,
		VaR99:        m.var99,
		SharpeRatio:  m.sharpe,
		LockedOut:    m.lockedOut,
		LastComputed: m.lastVaR,
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
