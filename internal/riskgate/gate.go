// Package riskgate implements synchronous pre-trade admission control. Every
// order request passes through the gate exactly once before any venue
// interaction.
package riskgate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/bus"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/config"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/telemetry"
)

// Limits are the gate's configured ceilings. Only the killswitch flag and
// the daily-loss tracker mutate at runtime.
type Limits struct {
	MaxPositionSize     int64
	MaxNotionalPerOrder decimal.Decimal
	MaxDailyLoss        decimal.Decimal
	MaxOrdersPerMinute  int
	PriceCollarPct      decimal.Decimal
}

// LimitsFromConfig converts the YAML limits into decimal form.
func LimitsFromConfig(cfg config.RiskLimitsConfig) Limits {
	return Limits{
		MaxPositionSize:     cfg.MaxPositionSize,
		MaxNotionalPerOrder: decimal.NewFromFloat(cfg.MaxNotionalPerOrder),
		MaxDailyLoss:        decimal.NewFromFloat(cfg.MaxDailyLoss),
		MaxOrdersPerMinute:  cfg.MaxOrdersPerMinute,
		PriceCollarPct:      decimal.NewFromFloat(cfg.PriceCollarPct),
	}
}

// Gate implements core.IRiskGate. The killswitch flag, the rate window, and
// the daily-loss tracker are read and written together in every check, so a
// single lock guards all of them.
type Gate struct {
	limits Limits
	cache  core.ICache
	events *bus.EventPublisher
	logger core.ILogger

	mu              sync.Mutex
	killswitch      bool
	killswitchNote  string
	orderTimestamps []time.Time
	totalPnL        decimal.Decimal // lifetime total fed by the portfolio
	pnlBaseline     decimal.Decimal // totalPnL at the start of the current UTC day
	lastPnLReset    time.Time       // UTC date of the last daily re-baseline

	now func() time.Time
}

// New creates a gate with the given limits.
func New(limits Limits, store core.ICache, events *bus.EventPublisher, logger core.ILogger) *Gate {
	g := &Gate{
		limits: limits,
		cache:  store,
		events: events,
		logger: logger.WithField("component", "risk_gate"),
		now:    time.Now,
	}
	g.lastPnLReset = g.today()
	return g
}

func (g *Gate) today() time.Time {
	return g.now().UTC().Truncate(24 * time.Hour)
}

func reject(v core.RiskViolationType, msg string, ts time.Time) core.RiskCheckResult {
	return core.RiskCheckResult{
		Passed:        false,
		ViolationType: v,
		Message:       msg,
		Timestamp:     ts,
	}
}

// CheckOrder runs the admission checks in fixed order and returns the first
// failure. On pass, the request timestamp is recorded for rate limiting;
// that recording is the gate's only side effect.
func (g *Gate) CheckOrder(req *core.OrderRequest) core.RiskCheckResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if g.killswitch {
		res := reject(core.ViolationKillswitch, "global killswitch activated: "+g.killswitchNote, now)
		g.observeRejection(res)
		return res
	}

	if msg, ok := g.checkDailyLoss(); !ok {
		res := reject(core.ViolationDailyLoss, msg, now)
		g.observeRejection(res)
		return res
	}

	if msg, ok := g.checkPositionLimit(req); !ok {
		res := reject(core.ViolationPositionLimit, msg, now)
		g.observeRejection(res)
		return res
	}

	if msg, ok := g.checkNotionalLimit(req); !ok {
		res := reject(core.ViolationNotionalLimit, msg, now)
		g.observeRejection(res)
		return res
	}

	if msg, ok := g.checkPriceCollar(req); !ok {
		res := reject(core.ViolationPriceCollar, msg, now)
		g.observeRejection(res)
		return res
	}

	if msg, ok := g.checkOrderRate(now); !ok {
		res := reject(core.ViolationOrderRate, msg, now)
		g.observeRejection(res)
		return res
	}

	g.orderTimestamps = append(g.orderTimestamps, now)

	return core.RiskCheckResult{
		Passed:    true,
		Message:   "all risk checks passed",
		Timestamp: now,
	}
}

func (g *Gate) observeRejection(res core.RiskCheckResult) {
	telemetry.GetGlobalMetrics().AddRiskRejection(context.Background(), string(res.ViolationType))
	g.logger.Warn("order rejected by risk gate", "violation", string(res.ViolationType), "message", res.Message)
}

// checkDailyLoss compares today's PnL movement against the loss ceiling.
func (g *Gate) checkDailyLoss() (string, bool) {
	g.rollPnLDay()

	daily := g.totalPnL.Sub(g.pnlBaseline)
	if daily.LessThan(g.limits.MaxDailyLoss.Neg()) {
		return fmt.Sprintf("daily loss limit exceeded: %s", daily), false
	}
	return "", true
}

// rollPnLDay re-baselines the daily tracker when the UTC date rolls over,
// so prior days' losses stop counting against today's limit. Callers hold
// g.mu.
func (g *Gate) rollPnLDay() {
	today := g.today()
	if today.After(g.lastPnLReset) {
		g.pnlBaseline = g.totalPnL
		g.lastPnLReset = today
	}
}

func (g *Gate) checkPositionLimit(req *core.OrderRequest) (string, bool) {
	var currentQty int64
	if pos, ok := g.cache.GetPosition(req.Instrument); ok {
		currentQty = pos.Quantity
	}

	newQty := currentQty + req.SignedQuantity()
	if abs64(newQty) > g.limits.MaxPositionSize {
		return fmt.Sprintf("position limit exceeded: |%d| > %d", newQty, g.limits.MaxPositionSize), false
	}
	return "", true
}

func (g *Gate) checkNotionalLimit(req *core.OrderRequest) (string, bool) {
	notional := req.Notional()
	if notional.GreaterThan(g.limits.MaxNotionalPerOrder) {
		return fmt.Sprintf("notional limit exceeded: %s > %s", notional, g.limits.MaxNotionalPerOrder), false
	}
	return "", true
}

// checkPriceCollar passes permissively when no market price is known:
// refusing all orders on missing data would halt trading on every feed gap.
func (g *Gate) checkPriceCollar(req *core.OrderRequest) (string, bool) {
	md, ok := g.cache.GetMarketData(req.Instrument)
	if !ok || md.LastPrice.IsZero() {
		return "", true
	}

	collar := md.LastPrice.Mul(g.limits.PriceCollarPct)
	lower := md.LastPrice.Sub(collar)
	upper := md.LastPrice.Add(collar)

	if req.Price.LessThan(lower) || req.Price.GreaterThan(upper) {
		return fmt.Sprintf("price %s outside collar [%s, %s]", req.Price, lower, upper), false
	}
	return "", true
}

func (g *Gate) checkOrderRate(now time.Time) (string, bool) {
	cutoff := now.Add(-time.Minute)

	kept := g.orderTimestamps[:0]
	for _, ts := range g.orderTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.orderTimestamps = kept

	if len(g.orderTimestamps) >= g.limits.MaxOrdersPerMinute {
		return fmt.Sprintf("order rate limit exceeded: %d in the last minute", len(g.orderTimestamps)), false
	}
	return "", true
}

// ActivateKillswitch rejects everything from the next check on. Always
// published as a risk event.
func (g *Gate) ActivateKillswitch(reason string) {
	g.mu.Lock()
	g.killswitch = true
	g.killswitchNote = reason
	g.mu.Unlock()

	telemetry.GetGlobalMetrics().SetKillswitchActive(true)
	g.events.PublishRiskEvent(bus.EventKillswitchActivated, map[string]string{
		"reason": reason,
	})
	g.logger.Error("KILLSWITCH ACTIVATED", "reason", reason)
}

// DeactivateKillswitch resumes admission from the next check on.
func (g *Gate) DeactivateKillswitch() {
	g.mu.Lock()
	g.killswitch = false
	g.killswitchNote = ""
	g.mu.Unlock()

	telemetry.GetGlobalMetrics().SetKillswitchActive(false)
	g.events.PublishRiskEvent(bus.EventKillswitchDeactivated, map[string]string{})
	g.logger.Info("killswitch deactivated")
}

// KillswitchActive reports the current killswitch state.
func (g *Gate) KillswitchActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killswitch
}

// UpdateDailyPnL feeds the portfolio's running total PnL into the loss
// tracker. Called by the portfolio engine after every fill; the daily
// figure is the movement since the day-start baseline.
func (g *Gate) UpdateDailyPnL(pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollPnLDay()
	g.totalPnL = pnl
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
