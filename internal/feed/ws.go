// Package feed streams market events from an upstream market-data
// WebSocket into the engine. Reconnects with exponential backoff and
// never blocks on a full output channel — the engine's ingest queue is
// the backpressure boundary, not the socket reader.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"indicator-enginev1/internal/model"
)

const (
	readLimit     = 1 << 20 // 1 MiB per message
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	maxBackoff    = 30 * time.Second
	handshakeWait = 10 * time.Second
)

// Config configures the WebSocket feed.
type Config struct {
	URL     string   // e.g. "wss://feed.example.com/stream"
	Symbols []string // symbols to subscribe on connect
}

// subscribeMsg is the subscription request sent after connecting.
type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// WS is a market event source over a WebSocket. Satisfies
// model.EventSource.
type WS struct {
	cfg  Config
	conn *websocket.Conn

	// OnReconnect is called before each reconnection attempt (metrics).
	OnReconnect func()
}

// New creates a WebSocket feed.
func New(cfg Config) (*WS, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed: websocket URL is required")
	}
	return &WS{cfg: cfg}, nil
}

// Run connects and streams events to out until ctx is cancelled.
// Connection loss triggers reconnection with exponential backoff.
func (w *WS) Run(ctx context.Context, out chan<- model.MarketEvent) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0 // retry forever

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.connect(ctx); err != nil {
			wait := bo.NextBackOff()
			log.Printf("[feed] connect failed: %v (retrying in %v)", err, wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		if err := w.readLoop(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[feed] connection lost: %v", err)
			if w.OnReconnect != nil {
				w.OnReconnect()
			}
		}
	}
}

func (w *WS) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeWait}
	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.cfg.URL, err)
	}
	conn.SetReadLimit(readLimit)
	w.conn = conn

	if len(w.cfg.Symbols) > 0 {
		sub := subscribeMsg{Op: "subscribe", Symbols: w.cfg.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	log.Printf("[feed] connected to %s (%d symbols)", w.cfg.URL, len(w.cfg.Symbols))
	return nil
}

// readLoop pumps messages until the connection breaks. A ping goroutine
// keeps the connection alive; the deadline moves on every pong.
func (w *WS) readLoop(ctx context.Context, out chan<- model.MarketEvent) error {
	conn := w.conn
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev model.MarketEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[feed] parse error: %v", err)
			continue
		}
		if ev.Symbol == "" {
			continue
		}

		select {
		case out <- ev:
		default:
			log.Printf("[feed] out channel full, dropping event for %s", ev.Symbol)
		}
	}
}

// Close tears down the current connection.
func (w *WS) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
