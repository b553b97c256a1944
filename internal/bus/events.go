package bus

import (
	"strconv"
	"time"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
)

// Topic names.
const (
	TopicOrderEvents = "order_events"
	TopicRiskEvents  = "risk_events"
	TopicMarketData  = "market_data"
	TopicSignals     = "trading_signals"
)

// Order event types.
const (
	EventOrderStateUpdate = "ORDER_STATE_UPDATE"
)

// Risk event types.
const (
	EventKillswitchActivated   = "KILLSWITCH_ACTIVATED"
	EventKillswitchDeactivated = "KILLSWITCH_DEACTIVATED"
	EventPortfolioUpdate       = "PORTFOLIO_UPDATE"
	EventDrawdownLockout       = "DRAWDOWN_LOCKOUT"
)

// EventPublisher wraps a StreamBus with typed publish helpers. Every record
// carries an event_type and an ISO-8601 timestamp; numeric fields are
// serialized as text.
type EventPublisher struct {
	bus    core.IEventBus
	logger core.ILogger
}

// NewEventPublisher creates a typed publisher over the given bus.
func NewEventPublisher(b core.IEventBus, logger core.ILogger) *EventPublisher {
	return &EventPublisher{
		bus:    b,
		logger: logger.WithField("component", "event_publisher"),
	}
}

func (p *EventPublisher) publish(topic, eventType string, fields map[string]string) {
	fields["event_type"] = eventType
	fields["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := p.bus.Publish(topic, fields, DefaultMaxLen); err != nil {
		p.logger.Error("failed to publish event", "topic", topic, "event_type", eventType, "error", err)
	}
}

// PublishOrderEvent publishes an order state-update event.
func (p *EventPublisher) PublishOrderEvent(order *core.Order, message string) {
	p.publish(TopicOrderEvents, EventOrderStateUpdate, map[string]string{
		"client_order_id": order.ClientOrderID,
		"venue_order_id":  order.VenueOrderID,
		"instrument":      order.Instrument,
		"state":           string(order.State),
		"message":         message,
		"filled_quantity": strconv.FormatInt(order.FilledQuantity, 10),
		"average_price":   order.AveragePrice.String(),
	})
}

// PublishRiskEvent publishes a risk event of the given type.
func (p *EventPublisher) PublishRiskEvent(eventType string, fields map[string]string) {
	p.publish(TopicRiskEvents, eventType, fields)
}

// PublishTick publishes a market data tick.
func (p *EventPublisher) PublishTick(md core.MarketData) {
	p.publish(TopicMarketData, "TICK", map[string]string{
		"instrument": md.Instrument,
		"last_price": md.LastPrice.String(),
		"bid_price":  md.BidPrice.String(),
		"ask_price":  md.AskPrice.String(),
		"volume":     strconv.FormatInt(md.Volume, 10),
	})
}

// PublishSignal publishes a strategy signal. Confidence is passed through
// for logging only.
func (p *EventPublisher) PublishSignal(sig *core.Signal) {
	p.publish(TopicSignals, "SIGNAL", map[string]string{
		"strategy_id": sig.StrategyID,
		"instrument":  sig.Instrument,
		"side":        string(sig.Side),
		"quantity":    strconv.FormatInt(sig.Quantity, 10),
		"signal_type": string(sig.SignalType),
		"confidence":  strconv.FormatFloat(sig.Confidence, 'f', -1, 64),
	})
}
