package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"room-chat-service/internal/models"
	"room-chat-service/internal/observability"
)

// Conn wraps a websocket connection with a write lock so broadcasts from
// concurrent request handlers do not interleave frames.
type Conn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	Info ConnInfo
}

// NewConn wraps an upgraded websocket connection.
func NewConn(socket *websocket.Conn, info ConnInfo) *Conn {
	return &Conn{ws: socket, Info: info}
}

// WriteEnvelope serializes and writes a single frame.
func (c *Conn) WriteEnvelope(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Subscription is one active start operation on a connection, filtered to a
// single room.
type Subscription struct {
	Conn   *Conn
	OpID   string
	RoomID string
}

// Hub maintains active room subscriptions and fans newly created messages
// out to every subscription whose filter matches.
type Hub struct {
	rooms map[string]map[*Subscription]bool
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscription]bool)}
}

// Subscribe registers an operation for a room.
func (h *Hub) Subscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[sub.RoomID]; !ok {
		h.rooms[sub.RoomID] = make(map[*Subscription]bool)
	}
	h.rooms[sub.RoomID][sub] = true
	observability.IncWSSubscriptions()
}

// Unsubscribe removes a single subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// DropConn removes every subscription held by a connection, returning how
// many were dropped.
func (h *Hub) DropConn(conn *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for _, subs := range h.rooms {
		for sub := range subs {
			if sub.Conn == conn {
				h.removeLocked(sub)
				dropped++
			}
		}
	}
	return dropped
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs, ok := h.rooms[sub.RoomID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.rooms, sub.RoomID)
	}
	observability.DecWSSubscriptions()
}

// RoomSubscriberCount reports active subscriptions for a room.
func (h *Hub) RoomSubscriberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// BroadcastMessage pushes a newly created message to every subscription
// filtered to its room. Delivery is best-effort; a failed write drops the
// whole connection.
func (h *Hub) BroadcastMessage(msg models.Message) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.rooms[msg.RoomID]))
	for sub := range h.rooms[msg.RoomID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(msg)
	delivered := 0
	for _, sub := range subs {
		env := Envelope{Type: MsgData, ID: sub.OpID, Payload: payload}
		if err := sub.Conn.WriteEnvelope(env); err != nil {
			log.Printf("websocket write error: %v", err)
			sub.Conn.Close()
			h.DropConn(sub.Conn)
			h.publishWSError(msg.RoomID, sub.Conn, err)
			continue
		}
		delivered++
	}
	observability.IncMessagesFannedOut(delivered)
}

func (h *Hub) publishWSError(roomID string, conn *Conn, err error) {
	info := conn.Info

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"room_id":     roomID,
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"subject_id": info.SubjectID,
			"device_id":  info.DeviceID,
			"ip":         info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.rooms", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}
