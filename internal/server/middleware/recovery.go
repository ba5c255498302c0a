// Package middleware holds the ambient gin middleware of SPEC_FULL.md's
// ambient-stack section: panic recovery, request-id propagation, and access
// logging. Grounded on the reference gateway's middleware package (same
// gin.HandlerFunc shape, same internal/log call sites).
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/openrelay/k2think-proxy/internal/log"
)

// Recovery turns a panic in a downstream handler into a 500 response instead
// of crashing the process, logging the recovered value and a short stack
// trace.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(c.Request.Context(), "panic recovered",
					log.Any("panic", r),
					log.String("path", c.Request.URL.Path),
					log.String("stack", string(debug.Stack())),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"message": fmt.Sprintf("internal error: %v", r)},
				})
			}
		}()

		c.Next()
	}
}
