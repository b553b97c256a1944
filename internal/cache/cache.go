// Package cache provides the shared TTL key-value snapshot store consumed
// by the risk gate and risk manager, with position and market-data
// accessors. Readers tolerate snapshots that are stale by at most one
// fill-processing cycle.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
)

// Default TTLs, mirroring feed freshness: a tick older than a minute is not
// a usable collar reference, position snapshots live longer.
const (
	MarketDataTTL = 60 * time.Second
	PositionTTL   = 300 * time.Second
)

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store implements core.ICache in memory.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Set stores a value with an optional TTL (zero means no expiry).
func (s *Store) Set(key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
}

// Get returns the value for key if present and unexpired.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Purge removes all expired entries. Safe to call from a janitor loop.
func (s *Store) Purge() {
	now := s.now()
	s.mu.Lock()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}

func positionKey(instrument string) string {
	return "position:" + strings.ToUpper(instrument)
}

func marketDataKey(instrument string) string {
	return "market_data:" + strings.ToUpper(instrument) + ":latest"
}

// GetPosition returns the cached position snapshot for an instrument.
func (s *Store) GetPosition(instrument string) (core.Position, bool) {
	v, ok := s.Get(positionKey(instrument))
	if !ok {
		return core.Position{}, false
	}
	pos, ok := v.(core.Position)
	return pos, ok
}

// SetPosition stores a position snapshot.
func (s *Store) SetPosition(pos core.Position) {
	s.Set(positionKey(pos.Instrument), pos, PositionTTL)
}

// DeletePosition removes a position snapshot; called when a position
// closes, so absence means flat.
func (s *Store) DeletePosition(instrument string) {
	s.Delete(positionKey(instrument))
}

// GetMarketData returns the latest tick for an instrument.
func (s *Store) GetMarketData(instrument string) (core.MarketData, bool) {
	v, ok := s.Get(marketDataKey(instrument))
	if !ok {
		return core.MarketData{}, false
	}
	md, ok := v.(core.MarketData)
	return md, ok
}

// SetMarketData stores the latest tick.
func (s *Store) SetMarketData(md core.MarketData) {
	s.Set(marketDataKey(md.Instrument), md, MarketDataTTL)
}
