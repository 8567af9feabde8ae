package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"notification-service/internal/infrastructure/ratelimit"
	"notification-service/internal/shared/response"
)

// RateLimit applies the fixed-window limiter for one operation class.
// Authenticated callers are limited per user; unauthenticated traffic
// falls back to the client IP.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.ClientIP()
		if userID, exists := c.Get("userID"); exists {
			if id, ok := userID.(uuid.UUID); ok {
				identity = id.String()
			}
		}

		decision := limiter.Allow(c.Request.Context(), identity, class)
		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if decision.Blocked {
				response.TooManyRequests(c, "temporarily blocked due to repeated violations", retryAfter)
			} else {
				response.TooManyRequests(c, "rate limit exceeded", retryAfter)
			}
			c.Abort()
			return
		}

		c.Next()
	}
}
