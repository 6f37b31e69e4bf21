package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"idle_mining/internal/logger"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

const redisLimitTimeout = 200 * time.Millisecond

// RateLimiter is a fixed-window limiter keyed by wallet address. It counts
// in Redis when a client is configured and in process memory otherwise.
type RateLimiter struct {
	client *redis.Client
	local  *localLimiter
}

// NewRateLimiter returns a limiter backed by client. A nil client, or one
// that does not answer a ping, selects the in-process counter.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	rl := &RateLimiter{local: newLocalLimiter()}
	if client == nil {
		return rl
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis rate limiter unavailable, counting in memory", "error", err)
		return rl
	}
	rl.client = client
	return rl
}

// PerAddress allows maxRequests per window for each :address path value,
// falling back to the client IP. Redis errors let the request through.
// key format: rl:<window_seconds>:<identifier>
func (rl *RateLimiter) PerAddress(maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxRequests <= 0 {
			c.Next()
			return
		}

		ident := c.Param("address")
		if ident == "" {
			ident = c.ClientIP()
		}
		key := "rl:" + strconv.FormatInt(int64(window.Seconds()), 10) + ":" + ident

		var val int64
		if rl.client != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), redisLimitTimeout)
			n, err := rl.client.Incr(ctx, key).Result()
			if err != nil {
				cancel()
				// fail open
				c.Header("X-RateLimit-Error", "redis-error")
				c.Next()
				return
			}
			if n == 1 {
				rl.client.Expire(ctx, key, window)
			}
			cancel()
			val = n
		} else {
			val = rl.local.incr(key, window)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(maxRequests)-val), 10))

		if val > int64(maxRequests) {
			RLBlocked.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"retry_after": int(window.Seconds()),
			})
			return
		}

		RLRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}
