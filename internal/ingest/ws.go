package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantforge/tickpipe/internal/market"
)

// WSConfig configures a live tick subscription.
type WSConfig struct {
	URL    string
	Symbol string
	Venue  string

	// ReconnectEvery throttles reconnect attempts; zero means one per 5s.
	ReconnectEvery time.Duration
}

// WSClient consumes a trade stream over WebSocket and normalizes it into
// market.Tick values. Connection attempts run behind a circuit breaker and
// reconnects are rate limited, so a flapping feed degrades instead of
// spinning.
type WSClient struct {
	cfg     WSConfig
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	out chan market.Tick
}

// tradeMessage is the wire format of the upstream trade channel.
type tradeMessage struct {
	Type     string  `json:"type"`
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Qty      float64 `json:"qty"`
	TsMicros int64   `json:"ts_us"`
	Bid      float64 `json:"bid,omitempty"`
	Ask      float64 `json:"ask,omitempty"`
	BidSize  float64 `json:"bid_size,omitempty"`
	AskSize  float64 `json:"ask_size,omitempty"`
}

type subscribeRequest struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
}

// NewWSClient builds a client; nothing connects until Run.
func NewWSClient(cfg WSConfig) *WSClient {
	every := cfg.ReconnectEvery
	if every <= 0 {
		every = 5 * time.Second
	}
	return &WSClient{
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "tick-ws-" + cfg.Venue,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		limiter: rate.NewLimiter(rate.Every(every), 1),
		out:     make(chan market.Tick, 1024),
	}
}

// Ticks is the normalized output stream. Closed when Run returns.
func (c *WSClient) Ticks() <-chan market.Tick { return c.out }

// Run connects, subscribes and pumps ticks until the context is canceled.
// The caller aborts by canceling; there is no separate stop signal.
func (c *WSClient) Run(ctx context.Context) error {
	defer close(c.out)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := c.connect(ctx); err != nil {
			log.Warn().Err(err).Str("venue", c.cfg.Venue).Msg("tick feed connect failed")
			continue
		}
		if err := c.readLoop(ctx); err != nil {
			log.Warn().Err(err).Str("venue", c.cfg.Venue).Msg("tick feed dropped, reconnecting")
		}
	}
}

func (c *WSClient) connect(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
		}
		if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbol: c.cfg.Symbol}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", c.cfg.Symbol, err)
		}
		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *WSClient) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	// Watcher lives exactly as long as this connection, so reconnect churn
	// never accumulates goroutines.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() // unblocks ReadMessage
		case <-done:
		}
	}()

	log.Info().Str("venue", c.cfg.Venue).Str("symbol", c.cfg.Symbol).Msg("tick feed connected")
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		tick, ok, err := parseTrade(payload, c.cfg.Venue)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed tick message")
			continue
		}
		if !ok {
			continue // heartbeat or other channel
		}
		select {
		case c.out <- tick:
		case <-ctx.Done():
			return nil
		}
	}
}

// IsConnected reports the live connection state.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// parseTrade decodes one wire message; ok is false for non-trade frames.
func parseTrade(payload []byte, venue string) (market.Tick, bool, error) {
	var msg tradeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return market.Tick{}, false, fmt.Errorf("decode trade message: %w", err)
	}
	if msg.Type != "trade" {
		return market.Tick{}, false, nil
	}
	if msg.Price <= 0 || msg.Qty < 0 {
		return market.Tick{}, false, fmt.Errorf("bad trade values price=%f qty=%f", msg.Price, msg.Qty)
	}
	return market.Tick{
		Timestamp: time.UnixMicro(msg.TsMicros).UTC(),
		Price:     msg.Price,
		Quantity:  msg.Qty,
		Venue:     venue,
		Bid:       msg.Bid,
		Ask:       msg.Ask,
		BidSize:   msg.BidSize,
		AskSize:   msg.AskSize,
	}, true, nil
}
