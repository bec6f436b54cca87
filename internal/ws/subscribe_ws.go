package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"room-chat-service/internal/identity"
	"room-chat-service/internal/models"
	"room-chat-service/internal/observability"
	"room-chat-service/internal/repositories"
)

// SubscribeHandler terminates realtime channel connections: sub-protocol
// auth at connect time, init/ack handshake, then per-operation start frames
// that register room-filtered subscriptions on the hub.
type SubscribeHandler struct {
	hub      *Hub
	roomRepo repositories.RoomRepository
	provider identity.Provider
	apiKey   string
}

// NewSubscribeHandler constructs a SubscribeHandler. apiKey is the fallback
// connect credential; empty disables it.
func NewSubscribeHandler(hub *Hub, roomRepo repositories.RoomRepository, provider identity.Provider, apiKey string) *SubscribeHandler {
	return &SubscribeHandler{hub: hub, roomRepo: roomRepo, provider: provider, apiKey: apiKey}
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{BaseProtocol},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// Handle authenticates and upgrades the connection, then serves the
// subscription protocol until the peer goes away.
func (h *SubscribeHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("room-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	subjectID, ok := h.authenticate(c)
	if !ok {
		return
	}

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	conn := NewConn(socket, ConnInfo{
		ConnID:      newConnID(),
		SubjectID:   subjectID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	})

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, conn, "ws_connect", "")

	// The request context dies with the handler; the socket outlives it.
	go h.serve(context.WithoutCancel(ctx), conn, subjectID)
}

// authenticate resolves the caller from the offered sub-protocol list. A
// bearer identity token yields a subject id; a matching API key yields an
// anonymous connection limited to public rooms.
func (h *SubscribeHandler) authenticate(c *gin.Context) (string, bool) {
	auth, err := DecodeAuthProtocol(websocket.Subprotocols(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing realtime authorization"})
		return "", false
	}

	if auth.Authorization != "" {
		id, err := h.provider.Authenticate(c.Request.Context(), auth.Authorization)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return "", false
		}
		return id.SubjectID, true
	}

	if h.apiKey != "" && auth.APIKey == h.apiKey {
		return "", true
	}

	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid realtime authorization"})
	return "", false
}

func (h *SubscribeHandler) serve(ctx context.Context, conn *Conn, subjectID string) {
	var closeReason string
	defer func() {
		h.hub.DropConn(conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, conn, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(ctx, conn, "ws_error", closeReason)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			conn.WriteEnvelope(NewErrorEnvelope("", "malformed frame"))
			continue
		}

		switch env.Type {
		case MsgConnectionInit:
			conn.WriteEnvelope(Envelope{Type: MsgConnectionAck})
		case MsgStart:
			h.handleStart(ctx, conn, subjectID, env)
		case MsgStop:
			h.handleStop(conn, env.ID)
		default:
			conn.WriteEnvelope(NewErrorEnvelope(env.ID, "unsupported frame type"))
		}
	}
}

func (h *SubscribeHandler) handleStart(ctx context.Context, conn *Conn, subjectID string, env Envelope) {
	payload, err := ParseStartPayload(env.Payload)
	if err != nil || payload.Variables.RoomID == "" {
		conn.WriteEnvelope(NewErrorEnvelope(env.ID, "invalid subscription filter"))
		return
	}

	room, err := h.roomRepo.GetRoom(ctx, payload.Variables.RoomID)
	if err != nil {
		conn.WriteEnvelope(NewErrorEnvelope(env.ID, "room not available"))
		return
	}

	if !h.maySubscribe(room, subjectID) {
		conn.WriteEnvelope(NewErrorEnvelope(env.ID, "not authorized for room"))
		return
	}

	h.hub.Subscribe(&Subscription{Conn: conn, OpID: env.ID, RoomID: room.ID})
	observability.IncWSEvent("ws_subscribe")
}

func (h *SubscribeHandler) maySubscribe(room models.Room, subjectID string) bool {
	if subjectID != "" {
		return room.IsMember(subjectID)
	}
	// API-key connections carry no identity; only public rooms are visible.
	return room.RoomType == models.RoomTypePublic
}

func (h *SubscribeHandler) handleStop(conn *Conn, opID string) {
	h.hub.mu.Lock()
	for _, subs := range h.hub.rooms {
		for sub := range subs {
			if sub.Conn == conn && sub.OpID == opID {
				h.hub.removeLocked(sub)
			}
		}
	}
	h.hub.mu.Unlock()
	conn.WriteEnvelope(Envelope{Type: MsgComplete, ID: opID})
}

func (h *SubscribeHandler) publishLifecycle(ctx context.Context, conn *Conn, event, reason string) {
	info := conn.Info
	_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"subject_id": info.SubjectID,
				"device_id":  info.DeviceID,
				"ip":         info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
