package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit applies one process-wide token bucket to every route. A
// conversational turn is cheap to reject and expensive to process, so
// shedding load up front keeps the NLU collaborator out of trouble;
// per-client fairness is left to the ingress proxy.
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	bucket := rate.NewLimiter(limit, burst)
	return func(c *gin.Context) {
		if !bucket.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
