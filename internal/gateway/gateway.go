// Package gateway maintains per-conversation broadcast rooms over
// websocket connections. Room membership is transient addressing state,
// rebuilt on reconnect; the store stays the only owner of durable history.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/supportchat/widget/backend/internal/model/chat"
	"github.com/supportchat/widget/backend/internal/responder"
	chatservice "github.com/supportchat/widget/backend/internal/service/chat"
)

// Event is the wire envelope for both directions of the real-time channel.
type Event struct {
	Type     string     `json:"type"`
	Room     string     `json:"room,omitempty"`
	UserID   string     `json:"userId,omitempty"`
	Username string     `json:"username,omitempty"`
	Text     string     `json:"text,omitempty"`
	Turn     *chat.Turn `json:"turn,omitempty"`
	Error    string     `json:"error,omitempty"`
}

const (
	EventJoin        = "join"
	EventSendMessage = "sendMessage"
	EventMessage     = "message"
	EventEdited      = "messageEdited"
	EventDeleted     = "messageDeleted"
	EventError       = "error"
)

// Gateway is constructed once at process start and injected wherever
// broadcast access is needed; there is no ambient shared socket state.
type Gateway struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// New builds a gateway over the chat service.
func New(chatSvc *chatservice.Service) *Gateway {
	return &Gateway{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		rooms: make(map[string]map[*client]struct{}),
	}
}

// HandleWS upgrades the connection and runs its read/write pumps.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newClient(g, conn)
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
	go c.writePump()
	c.readPump(r.Context())
}

// join moves the client into room. A client occupies one room at a time;
// joining again relocates it.
func (g *Gateway) join(c *client, room string) {
	if room == "" {
		return
	}
	g.mu.Lock()
	if c.room != "" && c.room != room {
		g.removeLocked(c)
	}
	c.room = room
	members, ok := g.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		g.rooms[room] = members
	}
	members[c] = struct{}{}
	g.mu.Unlock()
	log.Debug().Str("room", room).Msg("client joined room")
}

// drop removes the client from its room; empty rooms are pruned.
func (g *Gateway) drop(c *client) {
	g.mu.Lock()
	g.removeLocked(c)
	g.mu.Unlock()
}

func (g *Gateway) removeLocked(c *client) {
	if c.room == "" {
		return
	}
	if members, ok := g.rooms[c.room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(g.rooms, c.room)
		}
	}
	c.room = ""
}

// RoomSize reports current membership; used by tests and diagnostics.
func (g *Gateway) RoomSize(room string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[room])
}

// Broadcast fans an event out to every member of room, the sender included.
// A room with no members is a silent no-op; nothing is queued for late
// joiners.
func (g *Gateway) Broadcast(room string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("failed to encode broadcast")
		return
	}

	g.mu.Lock()
	members := g.rooms[room]
	for c := range members {
		if !c.trySend(payload) {
			// Slow consumer: drop the connection rather than block the room.
			delete(members, c)
			c.room = ""
			go c.shutdown()
		}
	}
	if len(members) == 0 {
		delete(g.rooms, room)
	}
	g.mu.Unlock()
}

// BroadcastTurn publishes a persisted turn to its conversation's room.
func (g *Gateway) BroadcastTurn(eventType string, turn chat.Turn) {
	g.Broadcast(turn.ConversationID, Event{Type: eventType, Room: turn.ConversationID, Turn: &turn})
}

// onMessage routes one inbound sendMessage event through the chat service
// and broadcasts the result. Processing failures go back to the sender only.
func (g *Gateway) onMessage(ctx context.Context, c *client, ev Event) {
	room := ev.Room
	if room == "" {
		room = ev.UserID
	}
	if room == "" {
		c.sendEvent(Event{Type: EventError, Error: "room or userId is required"})
		return
	}

	turn, err := g.chatSvc.HandleMessageAutoCreate(ctx, room, ev.Username, ev.Text, nil)
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("error processing message")
		c.sendEvent(Event{Type: EventError, Room: room, Error: responder.ErrorReply})
		return
	}
	g.BroadcastTurn(EventMessage, turn)
}
