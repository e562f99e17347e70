// Package ratelimit guards the Transport Listener's upgrade endpoint:
// one limit keyed by source IP before authentication, a second keyed by
// UserID for use once a Session has authenticated. The Transport Listener
// calls only the IP check; nothing in the service calls CheckUser.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/groundwire/ptt-signal/internal/logging"
	"github.com/groundwire/ptt-signal/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Limiter enforces connection-rate limits ahead of the WebSocket upgrade.
type Limiter struct {
	wsIP   *limiter.Limiter
	wsUser *limiter.Limiter
}

// New builds a Limiter. redisClient may be nil, in which case limits are
// tracked in local memory (single-instance mode).
func New(ipRate, userRate string, redisClient *redis.Client) (*Limiter, error) {
	ip, err := limiter.NewRateFromFormatted(ipRate)
	if err != nil {
		return nil, fmt.Errorf("invalid ws IP rate: %w", err)
	}
	user, err := limiter.NewRateFromFormatted(userRate)
	if err != nil {
		return nil, fmt.Errorf("invalid ws user rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "ptt-signal:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
		}
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store; limits are per-instance only")
	}

	return &Limiter{
		wsIP:   limiter.New(store, ip),
		wsUser: limiter.New(store, user),
	}, nil
}

// CheckIP enforces the pre-upgrade, pre-authentication limit. On exceed it
// writes a 429 response and returns false; the caller must not upgrade.
func (l *Limiter) CheckIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	res, err := l.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limit store failed for ws IP check", zap.Error(err))
		return true
	}
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "ip").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts from this address"})
		return false
	}
	metrics.RateLimitRequests.WithLabelValues("ws_connect").Inc()
	return true
}

// CheckUser enforces the post-authentication, per-user limit. Call it once
// a Session has a verified identity, before admitting further traffic.
func (l *Limiter) CheckUser(ctx context.Context, userID string) bool {
	res, err := l.wsUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "rate limit store failed for ws user check", zap.Error(err))
		return true
	}
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "user").Inc()
		return false
	}
	metrics.RateLimitRequests.WithLabelValues("ws_connect").Inc()
	return true
}
