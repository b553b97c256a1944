package portfolio

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/bus"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/cache"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/config"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/logging"
)

// freeCommission charges nothing, keeping the PnL arithmetic pure.
func freeCommission() *CommissionModel {
	return NewCommissionModel(config.CommissionConfig{})
}

func newTestEngine(commission *CommissionModel) (*Engine, *cache.Store) {
	logger := logging.NewNop()
	store := cache.New()
	events := bus.NewEventPublisher(bus.NewStreamBus(logger), logger)
	return NewEngine(decimal.NewFromInt(1_000_000), commission, store, events, logger), store
}

func fill(id, instrument string, side core.Side, qty int64, price float64) *core.Fill {
	return &core.Fill{
		ID:              id,
		ClientOrderID:   "ord-" + id,
		Instrument:      instrument,
		TransactionType: side,
		Quantity:        qty,
		Price:           decimal.NewFromFloat(price),
	}
}

func mustProcess(t *testing.T, e *Engine, f *core.Fill) {
	t.Helper()
	if err := e.ProcessFill(context.Background(), f); err != nil {
		t.Fatalf("ProcessFill(%s): %v", f.ID, err)
	}
}

func TestProcessFill_OpenThenCloseRealizesPnL(t *testing.T) {
	e, store := newTestEngine(freeCommission())

	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideBuy, 100, 100))

	pos, ok := e.GetPosition("NIFTY24FUT")
	if !ok {
		t.Fatal("expected open position")
	}
	if pos.Quantity != 100 || !pos.AveragePrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected position %d @ %s", pos.Quantity, pos.AveragePrice)
	}

	mustProcess(t, e, fill("f2", "NIFTY24FUT", core.SideSell, 100, 105))

	if _, ok := e.GetPosition("NIFTY24FUT"); ok {
		t.Error("closed position must be deleted, not kept at zero")
	}
	if _, ok := store.GetPosition("NIFTY24FUT"); ok {
		t.Error("closed position must be removed from the cache")
	}

	snap := e.Snapshot()
	if !snap.RealizedPnL.Equal(decimal.NewFromInt(500)) {
		t.Errorf("realized PnL = %s, want 500", snap.RealizedPnL)
	}
	// 1,000,000 - 100*100 + 100*105
	if !snap.Cash.Equal(decimal.NewFromInt(1_000_500)) {
		t.Errorf("cash = %s, want 1000500", snap.Cash)
	}
}

func TestProcessFill_SameSideBlendsAveragePrice(t *testing.T) {
	e, _ := newTestEngine(freeCommission())

	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideBuy, 100, 100))
	mustProcess(t, e, fill("f2", "NIFTY24FUT", core.SideBuy, 100, 110))

	pos, _ := e.GetPosition("NIFTY24FUT")
	if pos.Quantity != 200 {
		t.Fatalf("quantity = %d, want 200", pos.Quantity)
	}
	if !pos.AveragePrice.Equal(decimal.NewFromInt(105)) {
		t.Errorf("average price = %s, want 105", pos.AveragePrice)
	}
}

func TestProcessFill_PartialReduceKeepsAveragePrice(t *testing.T) {
	e, _ := newTestEngine(freeCommission())

	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideBuy, 100, 100))
	mustProcess(t, e, fill("f2", "NIFTY24FUT", core.SideSell, 40, 110))

	pos, _ := e.GetPosition("NIFTY24FUT")
	if pos.Quantity != 60 {
		t.Fatalf("quantity = %d, want 60", pos.Quantity)
	}
	if !pos.AveragePrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("average price after reduce = %s, want 100 (unchanged)", pos.AveragePrice)
	}
	if got := e.Snapshot().RealizedPnL; !got.Equal(decimal.NewFromInt(400)) {
		t.Errorf("realized PnL = %s, want 400", got)
	}
}

func TestProcessFill_ReversalRealizesOverlapAndResetsAverage(t *testing.T) {
	e, _ := newTestEngine(freeCommission())

	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideBuy, 100, 100))
	mustProcess(t, e, fill("f2", "NIFTY24FUT", core.SideSell, 150, 110))

	pos, ok := e.GetPosition("NIFTY24FUT")
	if !ok {
		t.Fatal("expected surviving short position")
	}
	if pos.Quantity != -50 {
		t.Fatalf("quantity = %d, want -50", pos.Quantity)
	}
	// The surviving short was opened at the reversal fill's price.
	if !pos.AveragePrice.Equal(decimal.NewFromInt(110)) {
		t.Errorf("average price after flip = %s, want 110", pos.AveragePrice)
	}
	if got := e.Snapshot().RealizedPnL; !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("realized PnL = %s, want 1000 (overlap of 100)", got)
	}
}

func TestProcessFill_ShortCoverRealizesPnL(t *testing.T) {
	e, _ := newTestEngine(freeCommission())

	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideSell, 100, 100))
	mustProcess(t, e, fill("f2", "NIFTY24FUT", core.SideBuy, 100, 90))

	if got := e.Snapshot().RealizedPnL; !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("realized PnL covering a short = %s, want 1000", got)
	}
}

func TestProcessFill_DuplicateFillDropped(t *testing.T) {
	e, _ := newTestEngine(freeCommission())

	f := fill("f1", "NIFTY24FUT", core.SideBuy, 100, 100)
	mustProcess(t, e, f)
	mustProcess(t, e, f)

	pos, _ := e.GetPosition("NIFTY24FUT")
	if pos.Quantity != 100 {
		t.Errorf("duplicate fill must not double-count: quantity = %d, want 100", pos.Quantity)
	}
	if !e.Snapshot().Cash.Equal(decimal.NewFromInt(990_000)) {
		t.Errorf("cash = %s, want 990000", e.Snapshot().Cash)
	}
}

func TestProcessFill_RejectsNonPositiveQuantity(t *testing.T) {
	e, _ := newTestEngine(freeCommission())

	if err := e.ProcessFill(context.Background(), fill("f1", "NIFTY24FUT", core.SideBuy, 0, 100)); err == nil {
		t.Error("expected error for zero quantity")
	}
}

func TestProcessFill_CommissionChargedOncePerFill(t *testing.T) {
	e, _ := newTestEngine(NewCommissionModel(config.CommissionConfig{
		BrokerageCap:    20,
		BrokerageRate:   0.0003,
		StatutoryRate:   0.0001,
		TransactionRate: 0.000019,
		TaxRate:         0.18,
	}))

	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideBuy, 1, 100))

	// turnover 100: brokerage 0.03, statutory 0.01, transaction 0.0019,
	// tax 0.18*(0.03+0.0019) = 0.005742
	wantCash := decimal.NewFromInt(1_000_000).
		Sub(decimal.NewFromInt(100)).
		Sub(decimal.RequireFromString("0.047642"))
	if got := e.Snapshot().Cash; !got.Equal(wantCash) {
		t.Errorf("cash = %s, want %s", got, wantCash)
	}
}

func TestMarkPriceUpdatesUnrealized(t *testing.T) {
	e, _ := newTestEngine(freeCommission())

	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideBuy, 100, 100))
	e.MarkPrice("NIFTY24FUT", decimal.NewFromInt(103))

	snap := e.Snapshot()
	if !snap.UnrealizedPnL.Equal(decimal.NewFromInt(300)) {
		t.Errorf("unrealized PnL = %s, want 300", snap.UnrealizedPnL)
	}
	if !snap.TotalPnL.Equal(decimal.NewFromInt(300)) {
		t.Errorf("total PnL = %s, want 300", snap.TotalPnL)
	}
}

func TestOnUpdateFeedsTotalPnL(t *testing.T) {
	e, _ := newTestEngine(freeCommission())

	var last decimal.Decimal
	e.OnUpdate(func(total decimal.Decimal) { last = total })

	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideBuy, 100, 100))
	mustProcess(t, e, fill("f2", "NIFTY24FUT", core.SideSell, 100, 105))

	if !last.Equal(decimal.NewFromInt(500)) {
		t.Errorf("callback total PnL = %s, want 500", last)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	e, _ := newTestEngine(freeCommission())
	mustProcess(t, e, fill("f1", "NIFTY24FUT", core.SideBuy, 100, 100))

	snap := e.Snapshot()
	p := snap.Positions["NIFTY24FUT"]
	p.Quantity = 9999
	snap.Positions["NIFTY24FUT"] = p

	pos, _ := e.GetPosition("NIFTY24FUT")
	if pos.Quantity != 100 {
		t.Errorf("mutating a snapshot must not touch engine state, got %d", pos.Quantity)
	}
}
