package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"room-chat-service/internal/identity"
)

// SubjectIDKey is the gin context key holding the caller's subject id.
const SubjectIDKey = "subjectID"

// AuthMiddleware validates the Authorization header against the identity
// provider and stores the caller's subject id on the request context.
func AuthMiddleware(provider identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		id, err := provider.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(SubjectIDKey, id.SubjectID)
		c.Next()
	}
}
