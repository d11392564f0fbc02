package middleware

import (
	"context"
	"fmt"
	"time"

	"codearena/internal/common/cache"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimiter enforces fixed-window counters in redis.
type RateLimiter struct {
	cache   cache.BasicOps
	timeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, timeout time.Duration) *RateLimiter {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &RateLimiter{cache: cacheClient, timeout: timeout}
}

// Allow counts one hit on key and fails with TooManyRequests above max.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if max <= 0 || window <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctx, key, 1, window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = l.cache.Incr(ctx, key)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
		}
		if ttl, ttlErr := l.cache.TTL(ctx, key); ttlErr == nil && ttl <= 0 {
			_ = l.cache.Expire(ctx, key, window)
		}
	}
	if int(count) > max {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitPolicy limits one route per user and per client IP.
type RateLimitPolicy struct {
	Window  time.Duration `yaml:"window"`
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
}

// RateLimitMiddleware applies policy to a route. A nil limiter disables it.
// The user key is the user id carried by the request context.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		if policy.IPMax > 0 {
			key := fmt.Sprintf("arena:rate:ip:%s:%s", c.ClientIP(), routeKey)
			if err := limiter.Allow(ctx, key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.UserMax > 0 {
			if userID, _ := ctx.Value(contextkey.UserID).(string); userID != "" {
				key := fmt.Sprintf("arena:rate:user:%s:%s", userID, routeKey)
				if err := limiter.Allow(ctx, key, policy.UserMax, policy.Window); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}
		c.Next()
	}
}
