// Package marketfeed implements a websocket sample feed.
package marketfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	"SignalGate/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client implements a SampleFeed backed by a websocket that streams sample envelopes.
// A frame is either one envelope or a JSON array of envelopes.
type Client struct {
	url            string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a new websocket SampleFeed.
func New(url string, symbols []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) drepo.SampleFeed {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		url:            url,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("feed connected", logger.String("url", c.url))
	return nil
}

// Subscribe subscribes to the configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("feed not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.log.Info("feed subscribed", logger.String("symbol", s))
	}
	return nil
}

// Read streams envelopes and errors from the current connection. Both channels close when
// the connection fails or ctx is done.
func (c *Client) Read(ctx context.Context) (<-chan models.Envelope, <-chan error) {
	out := make(chan models.Envelope, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn == conn && conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
				c.mu.Unlock()
			}
		}
	}()

	// read loop
	go func() {
		defer cancel()
		defer close(out)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("feed conn nil")
			return
		}
		for {
			if readCtx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("feed read: %w", err)
				return
			}
			envs, err := DecodeFrame(b)
			if err != nil {
				// ignore control and unknown frames
				continue
			}
			for _, env := range envs {
				select {
				case out <- env:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return out, errs
}

// DecodeFrame parses one frame into envelopes.
func DecodeFrame(b []byte) ([]models.Envelope, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if b[0] == '[' {
		var envs []models.Envelope
		if err := json.Unmarshal(b, &envs); err != nil {
			return nil, err
		}
		return envs, nil
	}
	var env models.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	if env.Sample() == nil {
		return nil, fmt.Errorf("frame without sample")
	}
	return []models.Envelope{env}, nil
}

// Reconnect closes and reconnects after the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
