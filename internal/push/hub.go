// Package push streams live indicator updates to WebSocket clients.
// The hub drains one fan-out subscription and delivers each update to
// every client whose subscription filter matches; a per-stream sequence
// number lets clients detect gaps after a slow-consumer drop.
package push

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"indicator-enginev1/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The admin port is not exposed publicly; origin checks belong on
	// the edge proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type latestEntry struct {
	update model.IndicatorUpdate
	seq    int64
	at     time.Time
}

// Hub manages WebSocket clients and fans indicator updates out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry // key = update.Key()
	seqs    map[string]int64       // per-stream sequence for gap detection
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		seqs:    make(map[string]int64),
	}
}

// Run drains updates into the hub until ctx is cancelled or the channel
// closes. Wired to a fan-out subscription by the service.
func (h *Hub) Run(ctx context.Context, updates <-chan model.IndicatorUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(up)
		}
	}
}

// Broadcast delivers one update to every matching client. The envelope
// JSON is hand-crafted once and shared across clients.
func (h *Hub) Broadcast(up model.IndicatorUpdate) {
	key := up.Key()
	now := time.Now().UTC()

	h.mu.Lock()
	h.seqs[key]++
	seq := h.seqs[key]
	h.latest[key] = latestEntry{update: up, seq: seq, at: now}
	h.mu.Unlock()

	buf := envelope(key, &up, now, seq)

	h.mu.RLock()
	for c := range h.clients {
		if !c.matches(&up) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			// Slow consumer: drop. The seq gap tells the client to
			// re-request state.
		}
	}
	h.mu.RUnlock()
}

// envelope hand-crafts the wire JSON, cheaper than json.Marshal on the
// hot path: {"stream":"...","symbol":"...","indicator":"...",
// "timeframe":"...","value":N,"ts":N,"sent":"...","seq":N}
func envelope(key string, up *model.IndicatorUpdate, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(key)+160)
	buf = append(buf, `{"stream":"`...)
	buf = append(buf, key...)
	buf = append(buf, `","symbol":"`...)
	buf = append(buf, up.Symbol...)
	buf = append(buf, `","indicator":"`...)
	buf = append(buf, up.Indicator...)
	buf = append(buf, `","timeframe":"`...)
	buf = append(buf, up.Timeframe...)
	buf = append(buf, `","value":`...)
	buf = strconv.AppendFloat(buf, up.Value, 'g', -1, 64)
	buf = append(buf, `,"ts":`...)
	buf = strconv.AppendFloat(buf, up.Timestamp, 'g', -1, 64)
	buf = append(buf, `,"sent":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// HandleWS upgrades an HTTP connection and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[push] ws upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[push] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// removeClient unregisters a client and closes its send channel.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// sendLatest pushes the cached last value of every stream matching the
// client's subscriptions, so a fresh subscriber sees state immediately
// instead of waiting for the next refresh.
func (h *Hub) sendLatest(c *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for key, entry := range h.latest {
		up := entry.update
		if !c.matches(&up) {
			continue
		}
		select {
		case c.send <- envelope(key, &up, entry.at, entry.seq):
		default:
		}
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
