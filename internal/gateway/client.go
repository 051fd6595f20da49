package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
)

// client is one websocket connection. Lifecycle per the room contract:
// Connected -> Joined(room) -> Connected on leave or disconnect.
type client struct {
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte

	// room is guarded by the gateway mutex.
	room string

	mu     sync.Mutex
	closed bool
}

func newClient(gw *Gateway, conn *websocket.Conn) *client {
	return &client{
		gw:   gw,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// trySend queues payload without blocking. It reports false when the send
// buffer is full; a closed client swallows the payload.
func (c *client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once and tears the socket down.
func (c *client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *client) sendEvent(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode event")
		return
	}
	c.trySend(payload)
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.gw.drop(c)
		c.shutdown()
		log.Debug().Msg("client disconnected")
	}()
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			// Read error ends the loop so the deferred cleanup can fire.
			return
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.sendEvent(Event{Type: EventError, Error: "invalid event payload"})
			continue
		}
		switch ev.Type {
		case EventJoin:
			room := ev.Room
			if room == "" {
				room = ev.UserID
			}
			c.gw.join(c, room)
		case EventSendMessage:
			c.gw.onMessage(ctx, c, ev)
		default:
			c.sendEvent(Event{Type: EventError, Error: "unknown event type: " + ev.Type})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
