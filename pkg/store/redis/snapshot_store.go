// Package redis persists depth snapshots so they can be inspected
// while a long replay is running. The store is optional: the exchange
// agent works without it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bashog/marketsim/pkg/analytics"
)

// ErrNoSnapshot is returned when no snapshot exists for a symbol
var ErrNoSnapshot = errors.New("no snapshot stored")

// SnapshotStore writes order book snapshots to Redis
type SnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotStore creates a store using the given client. Keys are
// namespaced under prefix; entries expire after ttl (zero keeps them).
func NewSnapshotStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// SaveSnapshot stores the state under a timestamped key and updates
// the latest pointer for its symbol
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, state analytics.OrderBookState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := s.snapshotKey(state.Symbol, state.Timestamp)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.Set(ctx, s.latestKey(state.Symbol), data, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to save snapshot",
			zap.String("symbol", state.Symbol),
			zap.Time("timestamp", state.Timestamp),
			zap.Error(err))
		return fmt.Errorf("save snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("symbol", state.Symbol),
		zap.Time("timestamp", state.Timestamp))
	return nil
}

// LatestSnapshot returns the most recently saved state for symbol
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, symbol string) (*analytics.OrderBookState, error) {
	data, err := s.client.Get(ctx, s.latestKey(symbol)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var state analytics.OrderBookState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &state, nil
}

func (s *SnapshotStore) snapshotKey(symbol string, ts time.Time) string {
	return fmt.Sprintf("%s:snapshot:%s:%d", s.prefix, symbol, ts.UnixNano())
}

func (s *SnapshotStore) latestKey(symbol string) string {
	return fmt.Sprintf("%s:snapshot:%s:latest", s.prefix, symbol)
}
