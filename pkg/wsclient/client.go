// Package wsclient provides a WebSocket client with automatic reconnection.
package wsclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/telemetry"
)

// MessageHandler handles incoming WebSocket messages.
type MessageHandler func(message []byte)

// Client maintains one WebSocket connection, redialing with a fixed wait
// whenever the connection drops. Subscriptions are re-established through
// the OnConnected callback after every (re)connect.
type Client struct {
	url           string
	handler       MessageHandler
	reconnectWait time.Duration
	pingInterval  time.Duration
	pingWait      time.Duration
	pongWait      time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	onConnected func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewClient creates a WebSocket client for the given URL.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))

	return &Client{
		url:           url,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		pingInterval:  30 * time.Second,
		pingWait:      10 * time.Second,
		pongWait:      60 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		tracer:        tracer,
		msgCounter:    msgCounter,
		connCounter:   connCounter,
	}
}

// SetOnConnected registers a callback invoked after every successful
// connect, before the read loop starts.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes one JSON message over the current connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loops.
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("websocket stop: goroutines did not exit within timeout", "url", c.url)
		}
	}

	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connect(); err != nil {
			if c.logger != nil {
				c.logger.Error("websocket connect failed", "url", c.url, "error", err)
			}
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.reconnectWait):
			}
			continue
		}

		c.mu.Lock()
		onConnected := c.onConnected
		c.mu.Unlock()
		if onConnected != nil {
			onConnected()
		}

		heartbeatCtx, stopHeartbeat := context.WithCancel(c.ctx)
		c.wg.Add(1)
		go c.heartbeat(heartbeatCtx)

		c.readLoop()
		stopHeartbeat()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnectWait):
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.pingWait)); err != nil {
				// Failed ping means a dead peer; closing triggers reconnect.
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "ws.connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		c.msgCounter.Add(c.ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
	}
}
