package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradebook/internal/auth"
	"tradebook/internal/monitoring"
)

const (
	sessionCookie = "session"
	sessionKey    = "session"
)

// RequireSession decodes the session cookie into an explicit auth.Session
// value and rejects the request if there is none.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(sessionCookie)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}
		sess, err := h.auth.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) *auth.Session {
	return c.MustGet(sessionKey).(*auth.Session)
}

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		monitoring.ObserveRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
