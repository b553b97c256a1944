// Package venue contains execution venue adapters backed by real
// transports.
package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	apperrors "github.com/puneethgb098/MidFrequencyTradingSystem/pkg/errors"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/httpclient"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/wsclient"
)

// RemoteConfig configures a REST+WebSocket venue adapter.
type RemoteConfig struct {
	Name      string
	BaseURL   string
	StreamURL string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

// apiKeySigner attaches the API key header the venue expects.
type apiKeySigner struct {
	apiKey string
}

func (s *apiKeySigner) SignRequest(req *http.Request) error {
	req.Header.Set("X-API-Key", s.apiKey)
	return nil
}

// submitRequest is the REST order payload.
type submitRequest struct {
	ClientOrderID   string `json:"client_order_id"`
	Instrument      string `json:"instrument"`
	Quantity        int64  `json:"quantity"`
	Price           string `json:"price"`
	OrderType       string `json:"order_type"`
	TransactionType string `json:"transaction_type"`
	TimeInForce     string `json:"time_in_force"`
}

type submitResponse struct {
	VenueOrderID string `json:"venue_order_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

type cancelResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// streamMessage is one execution update on the WebSocket stream.
type streamMessage struct {
	ClientOrderID  string `json:"client_order_id"`
	VenueOrderID   string `json:"venue_order_id"`
	Status         string `json:"status"`
	FilledQuantity int64  `json:"filled_quantity"`
	AveragePrice   string `json:"average_price"`
	Message        string `json:"message"`
	Timestamp      int64  `json:"timestamp"`
}

// Remote is a venue adapter speaking REST for order entry and WebSocket
// for execution updates. Order submission is never retried at the
// transport level; an ambiguous outcome surfaces as an error and the
// router counts it against the venue.
type Remote struct {
	cfg  RemoteConfig
	rest *httpclient.Client

	logger core.ILogger

	mu       sync.Mutex
	stream   *wsclient.Client
	callback func(*core.ExecutionUpdate)
	running  bool
}

// NewRemote creates a remote venue adapter.
func NewRemote(cfg RemoteConfig, logger core.ILogger) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Remote{
		cfg:    cfg,
		rest:   httpclient.NewClient(cfg.BaseURL, cfg.Timeout, &apiKeySigner{apiKey: cfg.APIKey}),
		logger: logger.WithField("component", "remote_venue").WithField("venue", cfg.Name),
	}
}

func (r *Remote) Name() string { return r.cfg.Name }

// Submit places the order over REST. The venue echoes the client order id
// on its stream, so correlation survives reconnects.
func (r *Remote) Submit(ctx context.Context, order *core.Order) (string, error) {
	payload := submitRequest{
		ClientOrderID:   order.ClientOrderID,
		Instrument:      order.Instrument,
		Quantity:        order.Quantity,
		Price:           order.Price.String(),
		OrderType:       string(order.OrderType),
		TransactionType: string(order.TransactionType),
		TimeInForce:     order.TimeInForce,
	}

	body, err := r.rest.PostOnce(ctx, "/v1/orders", payload)
	if err != nil {
		return "", classifyError(err)
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("malformed submit response: %w", err)
	}
	if resp.VenueOrderID == "" {
		return "", fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, resp.Message)
	}
	return resp.VenueOrderID, nil
}

// Cancel requests cancellation over REST. Cancels are idempotent at the
// venue, so callers may retry them.
func (r *Remote) Cancel(ctx context.Context, venueOrderID string) (bool, error) {
	body, err := r.rest.Delete(ctx, "/v1/orders/"+venueOrderID, nil)
	if err != nil {
		var apiErr *httpclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, classifyError(err)
	}

	var resp cancelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("malformed cancel response: %w", err)
	}
	return resp.Accepted, nil
}

// StartUpdateStream connects the WebSocket execution stream.
func (r *Remote) StartUpdateStream(ctx context.Context, callback func(*core.ExecutionUpdate)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("update stream already started for %s", r.cfg.Name)
	}

	r.callback = callback
	r.stream = wsclient.NewClient(r.cfg.StreamURL, r.handleMessage, r.logger)
	r.stream.SetOnConnected(func() {
		if err := r.stream.Send(map[string]string{
			"op":      "subscribe",
			"channel": "executions",
			"api_key": r.cfg.APIKey,
		}); err != nil {
			r.logger.Error("failed to subscribe to execution stream", "error", err)
		}
	})
	r.stream.Start()
	r.running = true
	return nil
}

func (r *Remote) StopUpdateStream() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.stream.Stop()
	r.running = false
	return nil
}

func (r *Remote) handleMessage(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		r.logger.Warn("dropping malformed stream message", "error", err)
		return
	}
	if msg.ClientOrderID == "" {
		// Heartbeats and subscription acks carry no order id.
		return
	}

	avgPrice := decimal.Zero
	if msg.AveragePrice != "" {
		parsed, err := decimal.NewFromString(msg.AveragePrice)
		if err != nil {
			r.logger.Warn("dropping stream message with bad price",
				"client_order_id", msg.ClientOrderID,
				"average_price", msg.AveragePrice,
			)
			return
		}
		avgPrice = parsed
	}

	status, ok := mapStatus(msg.Status)
	if !ok {
		r.logger.Warn("dropping stream message with unknown status",
			"client_order_id", msg.ClientOrderID,
			"status", msg.Status,
		)
		return
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.Unix(0, msg.Timestamp*int64(time.Millisecond))
	}

	r.mu.Lock()
	cb := r.callback
	r.mu.Unlock()
	if cb != nil {
		cb(&core.ExecutionUpdate{
			ClientOrderID:  msg.ClientOrderID,
			VenueOrderID:   msg.VenueOrderID,
			Venue:          r.cfg.Name,
			Status:         status,
			FilledQuantity: msg.FilledQuantity,
			AveragePrice:   avgPrice,
			Message:        msg.Message,
			Timestamp:      ts,
		})
	}
}

func mapStatus(s string) (core.ExecStatus, bool) {
	switch strings.ToUpper(s) {
	case "OPEN", "ACK":
		return core.ExecOpen, true
	case "PARTIAL", "PARTIALLY_FILLED":
		return core.ExecPartial, true
	case "COMPLETE", "FILLED":
		return core.ExecComplete, true
	case "CANCELLED", "CANCELED":
		return core.ExecCancelled, true
	case "REJECTED":
		return core.ExecRejected, true
	}
	return "", false
}

// classifyError maps transport failures onto the shared sentinels so the
// router can distinguish transient from permanent failures.
func classifyError(err error) error {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", apperrors.ErrAuthenticationFailed, err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", apperrors.ErrVenueUnavailable, err)
		case apiErr.StatusCode >= 400:
			return fmt.Errorf("%w: %v", apperrors.ErrOrderRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
}
