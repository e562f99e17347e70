// Package directory adapts the external Directory Store: a key→document
// service holding per-room member-policy lists and per-user push tokens.
// The core only ever reads it; Redis is the concrete backing store.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/groundwire/ptt-signal/internal/logging"
	"github.com/groundwire/ptt-signal/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Adapter looks up room membership policy and push tokens, degrading to
// empty results rather than failing the caller when Redis is unavailable.
type Adapter struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewAdapter connects to Redis and wraps every read in a circuit breaker
// so a Directory outage never blocks signaling.
func NewAdapter(addr, password string) (*Adapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "directory",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("directory").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "directory adapter connected to Redis", zap.String("addr", addr))
	return &Adapter{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func roomMembersKey(roomID string) string {
	return fmt.Sprintf("directory:room:%s:members", roomID)
}

func userTokensKey(userID string) string {
	return fmt.Sprintf("directory:user:%s:tokens", userID)
}

// GetRoomMemberIDs returns the authoritative member set for room policy
// (capacity, push targets). A Directory failure degrades to an empty list.
func (a *Adapter) GetRoomMemberIDs(ctx context.Context, roomID string) []string {
	if a == nil || a.client == nil {
		return nil
	}

	start := time.Now()
	res, err := a.cb.Execute(func() (interface{}, error) {
		return a.client.SMembers(ctx, roomMembersKey(roomID)).Result()
	})
	metrics.RedisOperationDuration.WithLabelValues("get_room_members").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("directory").Inc()
			logging.Warn(ctx, "directory circuit breaker open: treating room membership as empty", zap.String("room_id", roomID))
		} else {
			logging.Error(ctx, "directory GetRoomMemberIDs failed", zap.String("room_id", roomID), zap.Error(err))
		}
		metrics.RedisOperationsTotal.WithLabelValues("get_room_members", "error").Inc()
		return nil
	}
	metrics.RedisOperationsTotal.WithLabelValues("get_room_members", "success").Inc()
	return res.([]string)
}

// GetPushTokens batches a lookup of one push token per userID. Absent
// entries mean "no token"; a Directory failure degrades to an empty map.
func (a *Adapter) GetPushTokens(ctx context.Context, userIDs []string) map[string]string {
	tokens := make(map[string]string)
	if a == nil || a.client == nil || len(userIDs) == 0 {
		return tokens
	}

	for _, userID := range userIDs {
		start := time.Now()
		res, err := a.cb.Execute(func() (interface{}, error) {
			return a.client.HGetAll(ctx, userTokensKey(userID)).Result()
		})
		metrics.RedisOperationDuration.WithLabelValues("get_push_tokens").Observe(time.Since(start).Seconds())

		if err != nil {
			if err == gobreaker.ErrOpenState {
				metrics.CircuitBreakerFailures.WithLabelValues("directory").Inc()
				logging.Warn(ctx, "directory circuit breaker open: stopping push token lookup", zap.String("user_id", userID))
				metrics.RedisOperationsTotal.WithLabelValues("get_push_tokens", "error").Inc()
				break
			}
			logging.Error(ctx, "directory GetPushTokens failed", zap.String("user_id", userID), zap.Error(err))
			metrics.RedisOperationsTotal.WithLabelValues("get_push_tokens", "error").Inc()
			continue
		}
		metrics.RedisOperationsTotal.WithLabelValues("get_push_tokens", "success").Inc()

		deviceTokens := res.(map[string]string)
		for _, token := range deviceTokens {
			tokens[userID] = token
			break
		}
	}
	return tokens
}

// RemoveToken drops a push token the Push Dispatcher reported as
// permanently invalid. Best-effort; failures are logged only.
func (a *Adapter) RemoveToken(ctx context.Context, userID, token string) {
	if a == nil || a.client == nil {
		return
	}

	_, err := a.cb.Execute(func() (interface{}, error) {
		key := userTokensKey(userID)
		deviceTokens, err := a.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		for device, t := range deviceTokens {
			if t == token {
				if err := a.client.HDel(ctx, key, device).Err(); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("directory").Inc()
		}
		logging.Warn(ctx, "directory RemoveToken failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Ping checks Redis connectivity; used by the readiness probe.
func (a *Adapter) Ping(ctx context.Context) error {
	if a == nil || a.client == nil {
		return nil
	}
	_, err := a.cb.Execute(func() (interface{}, error) {
		return nil, a.client.Ping(ctx).Err()
	})
	return err
}

// Close releases the underlying Redis connection.
func (a *Adapter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}
