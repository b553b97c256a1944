package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/bus"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/config"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/logging"
)

// stubPortfolio is a fixed-state portfolio for exercising the manager's
// read-only checks.
type stubPortfolio struct {
	cash      decimal.Decimal
	positions map[string]core.Position
}

func (s *stubPortfolio) ProcessFill(ctx context.Context, fill *core.Fill) error { return nil }

func (s *stubPortfolio) GetPosition(instrument string) (core.Position, bool) {
	pos, ok := s.positions[instrument]
	return pos, ok
}

func (s *stubPortfolio) Snapshot() core.PortfolioState {
	positions := make(map[string]core.Position, len(s.positions))
	for k, v := range s.positions {
		positions[k] = v
	}
	return core.PortfolioState{Cash: s.cash, Positions: positions}
}

func (s *stubPortfolio) MarkPrice(instrument string, price decimal.Decimal) {}

func testRiskConfig() config.RiskManagerConfig {
	return config.RiskManagerConfig{
		MaxPositionValue:    500_000,
		MaxPortfolioValue:   10_000_000,
		MaxDrawdownPct:      0.10,
		MaxConcentrationPct: 0.15,
		MaxVaRPct:           0.05,
		DailyVolatilityPct:  0.02,
	}
}

func newTestManager(t *testing.T, cfg config.RiskManagerConfig, portfolio *stubPortfolio) *Manager {
	t.Helper()
	logger := logging.NewNop()
	events := bus.NewEventPublisher(bus.NewStreamBus(logger), logger)
	return NewManager(cfg, portfolio, events, logger)
}

func entrySignal(instrument string, side core.Side, qty int64) *core.Signal {
	return &core.Signal{
		StrategyID: "test",
		Instrument: instrument,
		Side:       side,
		Quantity:   qty,
		SignalType: core.SignalEntry,
		Confidence: 0.8,
		Timestamp:  time.Now(),
	}
}

func TestCheckSignal_NonPositiveQuantity(t *testing.T) {
	m := newTestManager(t, testRiskConfig(), &stubPortfolio{cash: decimal.NewFromInt(1_000_000)})
	if m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 0)) {
		t.Error("zero-quantity signal passed")
	}
	if m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, -10)) {
		t.Error("negative-quantity signal passed")
	}
}

func TestCheckSignal_PassesWithoutMark(t *testing.T) {
	// Value checks need a price; without one the signal defers to the
	// order-level gate instead of being rejected on missing data.
	m := newTestManager(t, testRiskConfig(), &stubPortfolio{cash: decimal.NewFromInt(1_000_000)})
	if !m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 100)) {
		t.Error("signal rejected with no market price recorded")
	}
}

func TestCheckSignal_PositionValueLimit(t *testing.T) {
	m := newTestManager(t, testRiskConfig(), &stubPortfolio{cash: decimal.NewFromInt(10_000_000)})
	m.UpdateMarketPrices(map[string]decimal.Decimal{"NIFTY24FUT": decimal.NewFromInt(1000)})

	// 400 * 1000 = 400,000 <= 500,000 limit; concentration 0.04 <= 0.15.
	if !m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 400)) {
		t.Error("signal within position value limit rejected")
	}
	// 600 * 1000 = 600,000 > 500,000.
	if m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 600)) {
		t.Error("signal exceeding position value limit passed")
	}
}

func TestCheckSignal_PositionValueIncludesExisting(t *testing.T) {
	portfolio := &stubPortfolio{
		cash: decimal.NewFromInt(5_000_000),
		positions: map[string]core.Position{
			"NIFTY24FUT": {Instrument: "NIFTY24FUT", Quantity: 450, LastPrice: decimal.NewFromInt(1000)},
		},
	}
	m := newTestManager(t, testRiskConfig(), portfolio)
	m.UpdateMarketPrices(map[string]decimal.Decimal{"NIFTY24FUT": decimal.NewFromInt(1000)})

	// 450 held + 100 = 550 * 1000 = 550,000 > 500,000.
	if m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 100)) {
		t.Error("signal passed despite projected position exceeding the limit")
	}
	// Selling 100 shrinks the projected position to 350,000.
	if !m.CheckSignal(entrySignal("NIFTY24FUT", core.SideSell, 100)) {
		t.Error("risk-reducing signal rejected by position value check")
	}
}

func TestCheckSignal_ConcentrationLimit(t *testing.T) {
	// Small equity makes the concentration bound bind before the absolute
	// value bound: 200 * 1000 = 200,000 is 0.20 of 1,000,000 equity.
	m := newTestManager(t, testRiskConfig(), &stubPortfolio{cash: decimal.NewFromInt(1_000_000)})
	m.UpdateMarketPrices(map[string]decimal.Decimal{"NIFTY24FUT": decimal.NewFromInt(1000)})

	if m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 200)) {
		t.Error("signal exceeding concentration limit passed")
	}
	// 100 * 1000 = 100,000 is exactly 0.10 of equity.
	if !m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 100)) {
		t.Error("signal within concentration limit rejected")
	}
}

func TestCheckSignal_PortfolioValueLimit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxPortfolioValue = 500_000
	m := newTestManager(t, cfg, &stubPortfolio{cash: decimal.NewFromInt(1_000_000)})

	if m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 1)) {
		t.Error("signal passed while portfolio value exceeds the ceiling")
	}
}

func TestDrawdownLockout(t *testing.T) {
	portfolio := &stubPortfolio{cash: decimal.NewFromInt(1_000_000)}
	m := newTestManager(t, testRiskConfig(), portfolio)

	m.refreshDrawdown()
	if m.GetMetrics().LockedOut {
		t.Fatal("locked out at peak")
	}

	// 15% decline trips the 10% ceiling.
	portfolio.cash = decimal.NewFromInt(850_000)
	m.refreshDrawdown()
	metrics := m.GetMetrics()
	if !metrics.LockedOut {
		t.Fatalf("not locked out at drawdown %s", metrics.Drawdown)
	}
	if !metrics.Drawdown.Equal(decimal.NewFromFloat(0.15)) {
		t.Errorf("drawdown = %s, want 0.15", metrics.Drawdown)
	}

	// Locked out: new exposure rejected, closing an open position allowed.
	if m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 10)) {
		t.Error("risk-increasing signal passed during lockout")
	}
	portfolio.positions = map[string]core.Position{
		"NIFTY24FUT": {Instrument: "NIFTY24FUT", Quantity: 100},
	}
	if !m.CheckSignal(entrySignal("NIFTY24FUT", core.SideSell, 50)) {
		t.Error("risk-reducing signal rejected during lockout")
	}
	if m.CheckSignal(entrySignal("NIFTY24FUT", core.SideBuy, 50)) {
		t.Error("signal adding to a long position passed during lockout")
	}

	// Recovery to within 10% of peak clears the lockout. The open 100-lot
	// has no mark, so equity is the cash balance.
	portfolio.positions = nil
	portfolio.cash = decimal.NewFromInt(950_000)
	m.refreshDrawdown()
	if m.GetMetrics().LockedOut {
		t.Error("lockout not cleared after recovery")
	}
}

func TestCheckVaR_OnlyRiskReducingDuringBreach(t *testing.T) {
	cfg := testRiskConfig()
	cfg.DailyVolatilityPct = 0.05 // VaR95 = 1.645 * 5% of equity > 5% cap
	portfolio := &stubPortfolio{
		cash: decimal.NewFromInt(1_000_000),
		positions: map[string]core.Position{
			"HELD":  {Instrument: "HELD", Quantity: 100},
			"SHORT": {Instrument: "SHORT", Quantity: -100},
		},
	}
	m := newTestManager(t, cfg, portfolio)
	m.computeVaR()

	// Closing an open position is still allowed.
	if !m.CheckSignal(entrySignal("HELD", core.SideSell, 50)) {
		t.Error("long reduction rejected during VaR breach")
	}
	if !m.CheckSignal(entrySignal("SHORT", core.SideBuy, 50)) {
		t.Error("short cover rejected during VaR breach")
	}
	// Adding to an open position is not, even though the instrument is held.
	if m.CheckSignal(entrySignal("HELD", core.SideBuy, 10)) {
		t.Error("signal adding to a long passed during VaR breach")
	}
	if m.CheckSignal(entrySignal("SHORT", core.SideSell, 10)) {
		t.Error("signal extending a short passed during VaR breach")
	}
	// New instruments may not open at all.
	if m.CheckSignal(entrySignal("FRESH", core.SideBuy, 10)) {
		t.Error("new instrument passed during VaR breach")
	}
}

func TestComputeVaR_Quantiles(t *testing.T) {
	m := newTestManager(t, testRiskConfig(), &stubPortfolio{cash: decimal.NewFromInt(1_000_000)})
	m.computeVaR()

	metrics := m.GetMetrics()
	// vol = 1,000,000 * 0.02 = 20,000.
	if !metrics.VaR95.Equal(decimal.NewFromInt(32900)) {
		t.Errorf("VaR95 = %s, want 32900", metrics.VaR95)
	}
	if !metrics.VaR99.Equal(decimal.NewFromInt(46520)) {
		t.Errorf("VaR99 = %s, want 46520", metrics.VaR99)
	}
	if metrics.LastComputed.IsZero() {
		t.Error("LastComputed not set")
	}
}
