package oms

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	apperrors "github.com/puneethgb098/MidFrequencyTradingSystem/pkg/errors"
)

// SQLiteStore persists the append-only order history. Each terminal order
// is written once, keyed by client order id.
type SQLiteStore struct {
	db *sql.DB
}

const ordersSchema = `
CREATE TABLE IF NOT EXISTS orders (
	client_order_id  TEXT PRIMARY KEY,
	venue_order_id   TEXT NOT NULL,
	strategy_id      TEXT NOT NULL,
	instrument       TEXT NOT NULL,
	quantity         INTEGER NOT NULL,
	price            TEXT NOT NULL,
	order_type       TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	time_in_force    TEXT NOT NULL,
	state            TEXT NOT NULL,
	filled_quantity  INTEGER NOT NULL,
	average_price    TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_updated_at ON orders(updated_at);
`

// NewSQLiteStore opens (or creates) the history database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(ordersSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveOrder upserts one order record. Prices are stored as decimal strings
// so no precision is lost on the round trip.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *core.Order) error {
	query := `INSERT OR REPLACE INTO orders
		(client_order_id, venue_order_id, strategy_id, instrument, quantity, price,
		 order_type, transaction_type, time_in_force, state, filled_quantity,
		 average_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		order.ClientOrderID,
		order.VenueOrderID,
		order.StrategyID,
		order.Instrument,
		order.Quantity,
		order.Price.String(),
		string(order.OrderType),
		string(order.TransactionType),
		order.TimeInForce,
		string(order.State),
		order.FilledQuantity,
		order.AveragePrice.String(),
		order.CreatedAt.UnixNano(),
		order.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write order to db: %w", err)
	}
	return nil
}

// LoadOrder fetches one order by client order id.
func (s *SQLiteStore) LoadOrder(ctx context.Context, clientOrderID string) (*core.Order, error) {
	query := `SELECT client_order_id, venue_order_id, strategy_id, instrument, quantity,
		price, order_type, transaction_type, time_in_force, state, filled_quantity,
		average_price, created_at, updated_at
		FROM orders WHERE client_order_id = ?`
	row := s.db.QueryRowContext(ctx, query, clientOrderID)

	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order from db: %w", err)
	}
	return order, nil
}

// LoadHistory returns the most recently updated orders, newest first.
func (s *SQLiteStore) LoadHistory(ctx context.Context, limit int) ([]*core.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT client_order_id, venue_order_id, strategy_id, instrument, quantity,
		price, order_type, transaction_type, time_in_force, state, filled_quantity,
		average_price, created_at, updated_at
		FROM orders ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*core.Order, error) {
	var (
		order                core.Order
		price, avgPrice      string
		createdAt, updatedAt int64
		orderType, txType    string
		state                string
	)
	err := row.Scan(
		&order.ClientOrderID,
		&order.VenueOrderID,
		&order.StrategyID,
		&order.Instrument,
		&order.Quantity,
		&price,
		&orderType,
		&txType,
		&order.TimeInForce,
		&state,
		&order.FilledQuantity,
		&avgPrice,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("corrupt price value %q: %w", price, err)
	}
	order.AveragePrice, err = decimal.NewFromString(avgPrice)
	if err != nil {
		return nil, fmt.Errorf("corrupt average price value %q: %w", avgPrice, err)
	}
	order.OrderType = core.OrderType(orderType)
	order.TransactionType = core.Side(txType)
	order.State = core.OrderState(state)
	order.CreatedAt = time.Unix(0, createdAt)
	order.UpdatedAt = time.Unix(0, updatedAt)
	return &order, nil
}
