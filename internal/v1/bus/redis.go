// Package bus provides a Redis-backed implementation of types.ExternalStore,
// giving a room's history buffer somewhere to spill evicted entries to and
// load older entries back from once it outgrows its in-memory window.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Store persists evicted history entries to Redis lists, one list per
// (roomId, event) pair, and serves OnLoad reads back out of them. Every
// call to Redis is routed through a circuit breaker; when the breaker is
// open, writes are dropped and reads return empty rather than propagating
// the failure into the room's hot path.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewStore dials Redis at addr, verifying connectivity with a Ping before
// returning.
func NewStore(addr, password string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "history-store",
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
			metrics.CircuitBreakerState.WithLabelValues("history-store").Set(stateVal)
		},
	}

	slog.Info("connected to Redis history store", "addr", addr)
	return &Store{client: client, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func key(roomID types.RoomID, event types.EventName) string {
	return fmt.Sprintf("dialogue:history:%s:%s", roomID, event)
}

// OnCleanup appends evicted entries to the room/event's Redis list, oldest
// first, matching the order the in-memory buffer evicted them in.
func (s *Store) OnCleanup(ctx context.Context, roomID types.RoomID, event types.EventName, evicted []types.EventMessage) {
	if len(evicted) == 0 {
		return
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		encoded := make([]interface{}, len(evicted))
		for i, msg := range evicted {
			data, err := json.Marshal(msg)
			if err != nil {
				return nil, err
			}
			encoded[i] = data
		}
		return nil, s.client.RPush(ctx, key(roomID, event), encoded...).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("history-store").Inc()
			slog.Warn("history store circuit open, dropping eviction batch", "roomId", roomID, "event", event)
			return
		}
		slog.Error("history store eviction write failed", "roomId", roomID, "event", event, "error", err)
	}
}

// OnLoad reads the newest-first half-open range [start, end) out of the
// room/event's Redis list. The list itself is stored oldest-first, so the
// requested range is translated into reverse list indices before the
// LRANGE call and the result is reversed back on the way out.
func (s *Store) OnLoad(ctx context.Context, roomID types.RoomID, event types.EventName, start, end int) ([]types.EventMessage, error) {
	if end <= start {
		return nil, nil
	}
	k := key(roomID, event)

	res, err := s.cb.Execute(func() (interface{}, error) {
		n, err := s.client.LLen(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 || int64(start) >= n {
			return []string{}, nil
		}
		lo := n - int64(end)
		if lo < 0 {
			lo = 0
		}
		hi := n - int64(start) - 1
		return s.client.LRange(ctx, k, lo, hi).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("history-store").Inc()
			slog.Warn("history store circuit open, returning no older entries", "roomId", roomID, "event", event)
			return nil, nil
		}
		slog.Error("history store load failed", "roomId", roomID, "event", event, "error", err)
		return nil, err
	}

	raw := res.([]string)
	out := make([]types.EventMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg types.EventMessage
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			slog.Error("history store entry unmarshal failed", "roomId", roomID, "event", event, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ping checks Redis connectivity, for use by readiness health checks.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("history-store").Inc()
	}
	return err
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client so other ambient
// infrastructure (the HTTP rate limiter's store) can share the same
// connection pool instead of opening a second one.
func (s *Store) Client() *redis.Client {
	return s.client
}
