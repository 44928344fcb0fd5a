package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// GinRateLimitMiddleware throttles the whole API behind one token
// bucket. Lot uploads fan out into many registry writes; a single
// limiter keeps SQLite contention bounded.
func GinRateLimitMiddleware(perSecond float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "Too many requests",
				Timestamp: time.Now().Format(time.RFC3339),
				RequestID: GetRequestIDFromGin(c),
			})
			return
		}
		c.Next()
	}
}
