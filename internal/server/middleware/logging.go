package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openrelay/k2think-proxy/internal/log"
)

// AccessLog logs one line per request that either errored or returned a
// non-2xx/3xx status, the way the reference gateway's AccessLog avoids
// flooding stdout with a line for every successful streamed chat call.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()

		var errMsgs []string
		for _, e := range c.Errors {
			errMsgs = append(errMsgs, e.Error())
		}

		if status < 400 && len(errMsgs) == 0 {
			return
		}

		ctx := c.Request.Context()

		log.Error(ctx, "request completed with error",
			log.Int("status", status),
			log.String("method", c.Request.Method),
			log.String("path", c.Request.URL.Path),
			log.Duration("latency", time.Since(start)),
			log.String("client_ip", c.ClientIP()),
			log.Any("errors", errMsgs),
		)
	}
}
