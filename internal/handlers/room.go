package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"room-chat-service/internal/identity"
	"room-chat-service/internal/middleware"
	"room-chat-service/internal/models"
	"room-chat-service/internal/repositories"
	"room-chat-service/internal/telemetry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// RoomHandler manages room-related endpoints.
type RoomHandler struct {
	roomRepo repositories.RoomRepository
	provider identity.Provider
	audit    *telemetry.AuditEmitter
}

// NewRoomHandler constructs a RoomHandler.
func NewRoomHandler(roomRepo repositories.RoomRepository, provider identity.Provider, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{roomRepo: roomRepo, provider: provider, audit: audit}
}

func callerSubjectID(c *gin.Context) string {
	return c.GetString(middleware.SubjectIDKey)
}

// CreateRoom handles POST /rooms.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	subjectID := callerSubjectID(c)

	var req struct {
		Name     string `json:"name" binding:"required"`
		RoomType string `json:"room_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > models.MaxRoomNameLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room name must be 1-50 characters"})
		return
	}
	if req.RoomType != models.RoomTypePublic && req.RoomType != models.RoomTypePrivate {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room type must be public or private"})
		return
	}

	room, err := h.roomRepo.CreateRoom(c.Request.Context(), subjectID, name, req.RoomType)
	if errors.Is(err, repositories.ErrRoomQuotaExceeded) {
		h.emitAudit(c, "ERROR", "room quota exceeded")
		c.JSON(http.StatusConflict, gin.H{"error": "room limit reached, delete a room first"})
		return
	}
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	h.emitAudit(c, "INFO", "Room created")
	c.JSON(http.StatusCreated, room)
}

// ListRooms returns a page of rooms.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	limit := pageLimit(c)
	rooms, next, err := h.roomRepo.ListRooms(c.Request.Context(), c.Query("cursor"), limit)
	if errors.Is(err, repositories.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "next_cursor": next})
}

// DeleteRoom handles DELETE /rooms/:room_id. A missing room yields a
// tombstone response so callers cannot probe for existence.
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	subjectID := callerSubjectID(c)
	roomID := c.Param("room_id")

	room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		c.JSON(http.StatusOK, models.RoomTombstone{ID: roomID})
		return
	}
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete room"})
		return
	}

	if strings.TrimSpace(room.Owner) != strings.TrimSpace(subjectID) {
		h.emitAudit(c, "ERROR", "delete denied: not room owner")
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot delete this room"})
		return
	}

	deleted, err := h.roomRepo.DeleteRoom(c.Request.Context(), roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		// Raced with another delete; already gone.
		c.JSON(http.StatusOK, models.RoomTombstone{ID: roomID})
		return
	}
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete room"})
		return
	}

	h.emitAudit(c, "INFO", "Room deleted")
	c.JSON(http.StatusOK, deleted)
}

// JoinRoom handles POST /rooms/:room_id/join. Joining twice is a no-op.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	subjectID := callerSubjectID(c)
	roomID := c.Param("room_id")

	room, err := h.roomRepo.AddMember(c.Request.Context(), roomID, subjectID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not join room"})
		return
	}

	if room.RoomType == models.RoomTypePrivate {
		h.emitAudit(c, "WARN", "private room joined without invitation")
	} else {
		h.emitAudit(c, "INFO", "Room joined")
	}
	c.JSON(http.StatusOK, room)
}

// GetUserRoomCount returns the number of rooms the caller owns.
func (h *RoomHandler) GetUserRoomCount(c *gin.Context) {
	subjectID := callerSubjectID(c)

	count, err := h.roomRepo.CountRoomsForOwner(c.Request.Context(), subjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// GetRoomMemberDetails resolves display names for everyone associated with
// the room. Lookups run concurrently; an id whose lookup fails is dropped
// rather than failing the whole call.
func (h *RoomHandler) GetRoomMemberDetails(c *gin.Context) {
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

	details, failed := h.resolveMembers(c.Request.Context(), room.MemberIDs())
	c.JSON(http.StatusOK, gin.H{"members": details, "failed_lookups": failed})
}

func (h *RoomHandler) resolveMembers(ctx context.Context, ids []string) ([]models.UserDetail, int) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		details = make([]models.UserDetail, 0, len(ids))
		failed  int
	)

	for _, id := range ids {
		wg.Add(1)
		go func(subjectID string) {
			defer wg.Done()
			detail, err := h.provider.LookupUser(ctx, subjectID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			details = append(details, detail)
		}(id)
	}
	wg.Wait()

	return details, failed
}

func (h *RoomHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), subjectIDFromContext(c))
}

func pageLimit(c *gin.Context) int {
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}
