package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Logger(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		rid := c.GetString(RequestIDHeader)
		ev := l.Info().
			Str("request_id", rid).
			Str("method", method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency)
		if actor, ok := Actor(c); ok {
			ev = ev.Str("actor", actor.ID)
		}
		ev.Msg("request")
	}
}
