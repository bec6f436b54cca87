package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"room-chat-service/internal/middleware"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func subjectIDFromContext(c *gin.Context) *string {
	if val, ok := c.Get(middleware.SubjectIDKey); ok {
		if subjectID, ok := val.(string); ok && subjectID != "" {
			return &subjectID
		}
	}

	if header := c.GetHeader("X-Subject-ID"); header != "" {
		return &header
	}

	return nil
}
