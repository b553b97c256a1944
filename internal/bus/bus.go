// Package bus provides an in-process event bus modeled as append-only,
// per-topic ordered logs with consumer groups and explicit acknowledgement.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	apperrors "github.com/puneethgb098/MidFrequencyTradingSystem/pkg/errors"
)

// Record is a single entry in a topic log. Fields are flat string maps;
// nested structures are not supported.
type Record struct {
	ID     string
	Fields map[string]string
}

// DefaultMaxLen caps topic logs when the publisher does not specify one.
const DefaultMaxLen = 10000

// redeliveryDelay is the pause before a nacked record is retried.
const redeliveryDelay = time.Second

// StreamBus implements core.IEventBus with in-memory topic logs.
type StreamBus struct {
	mu      sync.Mutex
	streams map[string]*stream
	logger  core.ILogger
	closed  bool
	wg      sync.WaitGroup
}

type stream struct {
	mu      sync.Mutex
	baseSeq int64
	records []Record
	nextSeq int64
	groups  map[string]*consumerGroup
}

type consumerGroup struct {
	cursor int64         // next sequence to claim
	notify chan struct{} // capacity 1, poked on publish
}

// NewStreamBus creates an empty bus.
func NewStreamBus(logger core.ILogger) *StreamBus {
	return &StreamBus{
		streams: make(map[string]*stream),
		logger:  logger.WithField("component", "event_bus"),
	}
}

func (b *StreamBus) getStream(topic string) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[topic]
	if !ok {
		s = &stream{groups: make(map[string]*consumerGroup)}
		b.streams[topic] = s
	}
	return s
}

// Publish appends a record to the topic log, trimming the oldest entries
// beyond maxLen, and returns the assigned record id.
func (b *StreamBus) Publish(topic string, fields map[string]string, maxLen int) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", apperrors.ErrStreamClosed
	}
	b.mu.Unlock()

	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	// Copy so later caller mutation cannot corrupt the log.
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}

	s := b.getStream(topic)
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq)
	s.records = append(s.records, Record{ID: id, Fields: copied})

	if len(s.records) > maxLen {
		drop := len(s.records) - maxLen
		s.records = s.records[drop:]
		s.baseSeq += int64(drop)
	}

	groups := make([]*consumerGroup, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.Unlock()

	for _, g := range groups {
		select {
		case g.notify <- struct{}{}:
		default:
		}
	}

	return id, nil
}

// Subscribe attaches a consumer to a topic under a consumer group. Each
// record is claimed by exactly one consumer in the group, in log order. A
// nil callback return acknowledges the record; an error keeps it pending
// with the claiming consumer, which retries after a delay. Subscribe
// returns once the consumer goroutine is running; delivery stops when ctx
// is cancelled.
func (b *StreamBus) Subscribe(ctx context.Context, topic, group, consumer string, callback func(id string, fields map[string]string) error) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return apperrors.ErrStreamClosed
	}
	b.mu.Unlock()

	s := b.getStream(topic)

	s.mu.Lock()
	g, ok := s.groups[group]
	if !ok {
		g = &consumerGroup{
			cursor: s.baseSeq + int64(len(s.records)),
			notify: make(chan struct{}, 1),
		}
		s.groups[group] = g
	}
	s.mu.Unlock()

	clog := b.logger.WithFields(map[string]interface{}{
		"topic":    topic,
		"group":    group,
		"consumer": consumer,
	})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeLoop(ctx, s, g, clog, callback)
	}()

	return nil
}

func (b *StreamBus) consumeLoop(ctx context.Context, s *stream, g *consumerGroup, clog core.ILogger, callback func(string, map[string]string) error) {
	for {
		rec, ok := claimRecord(s, g)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-g.notify:
			}
			continue
		}

		// The record is claimed; it stays with this consumer until the
		// callback acknowledges it.
		for {
			err := callback(rec.ID, rec.Fields)
			if err == nil {
				break
			}
			clog.Error("record processing failed, will redeliver", "record_id", rec.ID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(redeliveryDelay):
			}
		}
	}
}

// claimRecord hands the record at the group cursor to the calling
// consumer, advancing the cursor in the same critical section so no two
// consumers in a group receive the same record. Entries the retention cap
// already trimmed are skipped.
func claimRecord(s *stream, g *consumerGroup) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.cursor < s.baseSeq {
		g.cursor = s.baseSeq
	}
	idx := g.cursor - s.baseSeq
	if idx >= int64(len(s.records)) {
		return Record{}, false
	}
	rec := s.records[idx]
	g.cursor++
	return rec, true
}

// Len returns the current number of retained records for a topic.
func (b *StreamBus) Len(topic string) int {
	b.mu.Lock()
	s, ok := b.streams[topic]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close stops accepting publishes. Consumers stop when their contexts are
// cancelled; Close does not wait for them.
func (b *StreamBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
