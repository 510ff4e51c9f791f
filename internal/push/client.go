package push

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"indicator-enginev1/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// subs: symbol -> set of indicator names. An empty set means every
	// indicator for that symbol. No subscriptions means receive nothing.
	subMu sync.RWMutex
	subs  map[string]map[string]bool
}

// subscribeMsg is the client control message:
//
//	{"type":"SUBSCRIBE","symbol":"BTCUSD","indicators":["SMA","var_ab12cd34"]}
//	{"type":"UNSUBSCRIBE","symbol":"BTCUSD"}
type subscribeMsg struct {
	Type       string   `json:"type"`
	Symbol     string   `json:"symbol"`
	Indicators []string `json:"indicators"`
	Ping       int64    `json:"ping"`
}

// matches reports whether this client subscribed to the update's stream.
func (c *Client) matches(up *model.IndicatorUpdate) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	inds, ok := c.subs[up.Symbol]
	if !ok {
		return false
	}
	if len(inds) == 0 {
		return true
	}
	return inds[up.Indicator]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Write coalescing: batch queued messages into a single
			// frame with newline separators.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		log.Println("[push] ws client disconnected")
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var m subscribeMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}

		switch m.Type {
		case "SUBSCRIBE":
			if m.Symbol == "" {
				continue
			}
			c.subscribe(m.Symbol, m.Indicators)
			c.hub.sendLatest(c)
			log.Printf("[push] client subscribed: symbol=%s indicators=%v", m.Symbol, m.Indicators)

		case "UNSUBSCRIBE":
			c.subMu.Lock()
			delete(c.subs, m.Symbol)
			c.subMu.Unlock()
			log.Printf("[push] client unsubscribed: symbol=%s", m.Symbol)

		default:
			if m.Ping > 0 {
				pong, _ := json.Marshal(map[string]any{
					"type":      "pong",
					"ping":      m.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

func (c *Client) subscribe(symbol string, indicators []string) {
	set := make(map[string]bool, len(indicators))
	for _, ind := range indicators {
		if ind != "" {
			set[ind] = true
		}
	}
	c.subMu.Lock()
	c.subs[symbol] = set
	c.subMu.Unlock()
}
