package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/boostgram/backend/internal/auth"
	"github.com/boostgram/backend/internal/models"
)

const actorKey = "actor"

// Auth validates the bearer token and stores the resulting actor on the
// context. Tokens are also accepted via the `token` query parameter so
// websocket clients can authenticate the upgrade request.
func Auth(m *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == c.GetHeader("Authorization") {
			token = c.Query("token")
		}
		if token == "" {
			abortUnauthorized(c, "Missing credentials")
			return
		}
		actor, err := m.Actor(token)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireAdmin rejects non-admin actors. Must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := Actor(c)
		if !ok || !actor.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "FORBIDDEN",
					"message": "Admin access required",
				},
			})
			return
		}
		c.Next()
	}
}

func Actor(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": msg,
		},
	})
}
