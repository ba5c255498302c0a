package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openrelay/k2think-proxy/internal/log"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns a request id (reusing the client's X-Request-Id header
// when present) and stashes it in the request context so every internal/log
// call within the request's lifetime is tagged with it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Writer.Header().Set(requestIDHeader, id)
		c.Request = c.Request.WithContext(log.WithRequestID(c.Request.Context(), id))

		c.Next()
	}
}
