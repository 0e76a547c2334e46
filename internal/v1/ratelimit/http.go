package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dialoguehq/dialogue/internal/v1/config"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// HTTPLimiter guards the HTTP routes that sit next to the wire protocol
// (in cmd/dialogue, through Global only). Limiter's fixed-window
// algorithm is purpose-built for history requests; this is ambient
// infrastructure and is free to lean on a general-purpose library.
type HTTPLimiter struct {
	global *limiter.Limiter
	rooms  *limiter.Limiter
}

// NewHTTPLimiter builds the global and per-room-endpoint limiters, backed
// by Redis when redisClient is non-nil and an in-memory store otherwise.
func NewHTTPLimiter(cfg *config.Config, redisClient *redis.Client) (*HTTPLimiter, error) {
	globalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid global rate: %w", err)
	}
	roomsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIRooms)
	if err != nil {
		return nil, fmt.Errorf("invalid rooms rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "dialogue:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "HTTP rate limiter using in-memory store (redis disabled)")
	}

	return &HTTPLimiter{
		global: limiter.New(store, globalRate),
		rooms:  limiter.New(store, roomsRate),
	}, nil
}

// Global returns Gin middleware applying the global rate limit, keyed by
// client IP, or by the gin context's "userId" value when an earlier
// handler has set one.
func (h *HTTPLimiter) Global() gin.HandlerFunc {
	return h.middleware(h.global, "global")
}

// Rooms returns Gin middleware applying the room-administration rate limit
// (RateLimitAPIRooms). The server in cmd/dialogue mounts no route with it.
func (h *HTTPLimiter) Rooms() gin.HandlerFunc {
	return h.middleware(h.rooms, "rooms")
}

func (h *HTTPLimiter) middleware(l *limiter.Limiter, label string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if uid, ok := c.Get("userId"); ok {
			key = fmt.Sprintf("%v", uid)
		}

		ctx := c.Request.Context()
		lctx, err := l.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "HTTP rate limiter store failed", zap.Error(err), zap.String("endpoint", label))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(label).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "RATE_LIMITED",
				"retryAfter": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(label).Inc()
		c.Next()
	}
}
