package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"

	// ContextRequestID is the gin context key the access log reads.
	ContextRequestID = "request_id"
)

// RequestID tags each request so a single conversation turn can be
// traced through the access log. An id supplied by the caller is kept,
// letting clients correlate their own retries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(ContextRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
