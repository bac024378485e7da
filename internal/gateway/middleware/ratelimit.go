package middleware

import (
	"fmt"
	"time"

	"rexe/internal/gateway/service"
	"rexe/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

type RateLimitPolicy struct {
	Window  time.Duration `yaml:"window"`
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
}

// RateLimitMiddleware enforces per-route limits by client IP and, after auth, by username.
func RateLimitMiddleware(rateService *service.RateLimitService, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rateService == nil {
			c.Next()
			return
		}
		if policy.IPMax > 0 {
			key := fmt.Sprintf("rexe:rate:ip:%s:%s", c.ClientIP(), routeKey)
			if err := rateService.Allow(c.Request.Context(), key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.UserMax > 0 {
			if username := Username(c); username != "" {
				key := fmt.Sprintf("rexe:rate:user:%s:%s", username, routeKey)
				if err := rateService.Allow(c.Request.Context(), key, policy.UserMax, policy.Window); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}
		c.Next()
	}
}
