package oms

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	apperrors "github.com/puneethgb098/MidFrequencyTradingSystem/pkg/errors"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "orders.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleOrder(id string, state core.OrderState) *core.Order {
	now := time.Now().Truncate(time.Millisecond)
	return &core.Order{
		ClientOrderID:   id,
		VenueOrderID:    "V-" + id,
		StrategyID:      "strat-1",
		Instrument:      "NIFTY24FUT",
		Quantity:        100,
		Price:           decimal.RequireFromString("101.25"),
		OrderType:       core.OrderTypeLimit,
		TransactionType: core.SideBuy,
		TimeInForce:     "DAY",
		State:           state,
		FilledQuantity:  100,
		AveragePrice:    decimal.RequireFromString("101.20"),
		CreatedAt:       now.Add(-time.Minute),
		UpdatedAt:       now,
	}
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	saved := sampleOrder("ord-1", core.StateFilled)
	if err := store.SaveOrder(ctx, saved); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	loaded, err := store.LoadOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("LoadOrder: %v", err)
	}
	if loaded.State != core.StateFilled {
		t.Errorf("state = %s, want FILLED", loaded.State)
	}
	if !loaded.Price.Equal(saved.Price) || !loaded.AveragePrice.Equal(saved.AveragePrice) {
		t.Errorf("prices lost precision: %s / %s", loaded.Price, loaded.AveragePrice)
	}
	if !loaded.UpdatedAt.Equal(saved.UpdatedAt) {
		t.Errorf("updated_at = %v, want %v", loaded.UpdatedAt, saved.UpdatedAt)
	}
	if loaded.TransactionType != core.SideBuy || loaded.OrderType != core.OrderTypeLimit {
		t.Errorf("enums mangled: %s %s", loaded.TransactionType, loaded.OrderType)
	}
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	store := createTestStore(t)

	_, err := store.LoadOrder(context.Background(), "missing")
	if !errors.Is(err, apperrors.ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestSQLiteStore_SaveIsUpsert(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	order := sampleOrder("ord-1", core.StatePartialFill)
	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	order.State = core.StateFilled
	order.UpdatedAt = order.UpdatedAt.Add(time.Second)
	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder (update): %v", err)
	}

	loaded, err := store.LoadOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("LoadOrder: %v", err)
	}
	if loaded.State != core.StateFilled {
		t.Errorf("state = %s, want FILLED after upsert", loaded.State)
	}
}

func TestSQLiteStore_HistoryNewestFirst(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		order := sampleOrder(id, core.StateFilled)
		order.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveOrder(ctx, order); err != nil {
			t.Fatalf("SaveOrder(%s): %v", id, err)
		}
	}

	history, err := store.LoadHistory(ctx, 2)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].ClientOrderID != "new" || history[1].ClientOrderID != "mid" {
		t.Errorf("history order = %s, %s; want new, mid", history[0].ClientOrderID, history[1].ClientOrderID)
	}
}
