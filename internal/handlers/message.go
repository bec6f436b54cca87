package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"room-chat-service/internal/repositories"
	"room-chat-service/internal/telemetry"
	"room-chat-service/internal/ws"
)

// MessageHandler manages message endpoints.
type MessageHandler struct {
	roomRepo    repositories.RoomRepository
	messageRepo repositories.MessageRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{roomRepo: roomRepo, messageRepo: messageRepo, hub: hub, audit: audit}
}

// CreateMessage persists a message and fans it out to live subscribers.
// The caller must be the room owner or a member; the stored message is
// stamped with the reader snapshot taken now.
func (h *MessageHandler) CreateMessage(c *gin.Context) {
	subjectID := callerSubjectID(c)
	roomID := c.Param("room_id")

	room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}

	if !room.IsMember(subjectID) {
		// Detail goes to the audit stream, not the caller.
		h.emitAudit(c, "ERROR", fmt.Sprintf("send denied: sender not owner %s nor member of room %s", room.Owner, room.ID))
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot send messages to this room"})
		return
	}

	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body must not be empty"})
		return
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), room.ID, subjectID, req.Body, room.MemberIDs())
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.hub.BroadcastMessage(msg)
	h.emitAudit(c, "INFO", "Message sent")
	c.JSON(http.StatusCreated, msg)
}

// ListRoomMessages returns room messages ordered by creation time. Reading
// history requires membership.
func (h *MessageHandler) ListRoomMessages(c *gin.Context) {
	subjectID := callerSubjectID(c)
	roomID := c.Param("room_id")

	room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}

	if !room.IsMember(subjectID) {
		h.emitAudit(c, "ERROR", "history read denied")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	direction := c.DefaultQuery("direction", repositories.SortAscending)
	if direction != repositories.SortAscending && direction != repositories.SortDescending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be asc or desc"})
		return
	}

	msgs, next, err := h.messageRepo.ListRoomMessages(c.Request.Context(), room.ID, direction, c.Query("cursor"), pageLimit(c))
	if errors.Is(err, repositories.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs, "next_cursor": next})
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), subjectIDFromContext(c))
}
