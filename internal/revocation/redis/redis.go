// Package redis implements domain.RevocationStore over go-redis/v9: a
// durable hash of tombstones plus a pub/sub channel for live subscribers,
// mirroring the split between durable state and a notify channel already
// used by package backend/redis for WaitForResult.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

const (
	revocationsKey = "revocations"
	revokeChannel  = "revocations-notify"
)

// Store is a Redis-backed domain.RevocationStore.
type Store struct {
	rdb *goredis.Client
}

// New constructs a Store over an existing *redis.Client.
func New(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb}
}

// Revoke implements domain.RevocationStore.
func (s *Store) Revoke(ctx context.Context, taskID string, opts domain.RevokeOptions) error {
	return s.RevokeBatch(ctx, []string{taskID}, opts)
}

// RevokeBatch implements domain.RevocationStore.
func (s *Store) RevokeBatch(ctx context.Context, taskIDs []string, opts domain.RevokeOptions) error {
	now := time.Now()
	pipe := s.rdb.TxPipeline()
	events := make([]domain.RevocationEvent, 0, len(taskIDs))
	for _, id := range taskIDs {
		r := domain.Revocation{TaskID: id, Options: opts, RevokedAt: now}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("op=revocation.redis.revoke_batch: %w: %v", domain.ErrSerializationError, err)
		}
		pipe.HSet(ctx, revocationsKey, id, data)
		events = append(events, domain.RevocationEvent{TaskID: id, Options: opts, RevokedAt: now})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=revocation.redis.revoke_batch: %w: %v", domain.ErrBackendUnavailable, err)
	}
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		_ = s.rdb.Publish(ctx, revokeChannel, data).Err()
	}
	return nil
}

// IsRevoked implements domain.RevocationStore.
func (s *Store) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	n, err := s.rdb.HExists(ctx, revocationsKey, taskID).Result()
	if err != nil {
		return false, fmt.Errorf("op=revocation.redis.is_revoked: %w: %v", domain.ErrBackendUnavailable, err)
	}
	return n, nil
}

// List implements domain.RevocationStore.
func (s *Store) List(ctx context.Context) ([]domain.Revocation, error) {
	all, err := s.rdb.HGetAll(ctx, revocationsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("op=revocation.redis.list: %w: %v", domain.ErrBackendUnavailable, err)
	}
	out := make([]domain.Revocation, 0, len(all))
	for _, raw := range all {
		var r domain.Revocation
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Cleanup implements domain.RevocationStore.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for _, r := range all {
		if r.RevokedAt.Before(cutoff) {
			stale = append(stale, r.TaskID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.rdb.HDel(ctx, revocationsKey, stale...).Err(); err != nil {
		return 0, fmt.Errorf("op=revocation.redis.cleanup: %w: %v", domain.ErrBackendUnavailable, err)
	}
	return len(stale), nil
}

// Subscribe implements domain.RevocationStore over a Redis pub/sub
// channel; the returned channel closes when ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.RevocationEvent, error) {
	sub := s.rdb.Subscribe(ctx, revokeChannel)
	out := make(chan domain.RevocationEvent, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.RevocationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
