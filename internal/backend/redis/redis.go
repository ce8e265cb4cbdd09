// Package redis implements domain.ResultBackend over go-redis/v9, grounded
// on the teacher's pack's SetResult/GetResult key-per-task idiom
// (other_examples' g-cesar-DistributedQ pkg/queue/client.go), extended
// with a per-task Redis pub/sub channel so WaitForResult can block
// efficiently instead of polling.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

const defaultTTL = 24 * time.Hour

// Backend is a Redis-backed domain.ResultBackend.
type Backend struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a Backend. ttl bounds how long a stored result survives;
// pass 0 for the default of 24 hours.
func New(rdb *redis.Client, ttl time.Duration) *Backend {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Backend{rdb: rdb, ttl: ttl}
}

func resultKey(taskID string) string { return "taskresult:" + taskID }
func stateKey(taskID string) string  { return "taskstate:" + taskID }
func notifyKey(taskID string) string { return "taskresult-notify:" + taskID }

// Store implements domain.ResultBackend.
func (b *Backend) Store(ctx context.Context, result domain.TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("op=backend.redis.store: %w: %v", domain.ErrSerializationError, err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, resultKey(result.TaskID), data, b.ttl)
	pipe.Set(ctx, stateKey(result.TaskID), string(result.State), b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=backend.redis.store: %w: %v", domain.ErrBackendUnavailable, err)
	}
	if result.State.IsTerminal() {
		_ = b.rdb.Publish(ctx, notifyKey(result.TaskID), string(result.State)).Err()
	}
	return nil
}

// Get implements domain.ResultBackend.
func (b *Backend) Get(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	raw, err := b.rdb.Get(ctx, resultKey(taskID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("op=backend.redis.get: %w: %v", domain.ErrBackendUnavailable, err)
	}
	var result domain.TaskResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("op=backend.redis.get: %w: %v", domain.ErrSerializationError, err)
	}
	return &result, nil
}

// UpdateState implements domain.ResultBackend, validating the transition
// with a Lua-free check-then-set since current+candidate both live in
// Redis keys read within the same call; concurrent callers racing the
// same taskID may both observe a stale `from` and both succeed, a known
// tradeoff of this adapter versus the Postgres backend's row lock.
func (b *Backend) UpdateState(ctx context.Context, taskID string, state domain.TaskState, meta *domain.StateMetadata) error {
	current, _, err := b.GetState(ctx, taskID)
	if err != nil {
		return err
	}
	if !domain.AllowedTransitions(current, state) {
		return &domain.InvalidTransitionError{TaskID: taskID, From: current, To: state}
	}

	result, err := b.Get(ctx, taskID)
	if err != nil && err != domain.ErrNotFound {
		return err
	}
	if result == nil {
		result = &domain.TaskResult{TaskID: taskID}
	}
	result.State = state
	if meta != nil && meta.Exception != nil {
		result.Exception = meta.Exception
	}
	return b.Store(ctx, *result)
}

// GetState implements domain.ResultBackend.
func (b *Backend) GetState(ctx context.Context, taskID string) (domain.TaskState, bool, error) {
	raw, err := b.rdb.Get(ctx, stateKey(taskID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=backend.redis.get_state: %w: %v", domain.ErrBackendUnavailable, err)
	}
	return domain.TaskState(raw), true, nil
}

// WaitForResult implements domain.ResultBackend by subscribing to the
// task's notification channel while racing a check of the current state,
// avoiding the lost-wakeup window between the initial check and
// Subscribe.
func (b *Backend) WaitForResult(ctx context.Context, taskID string, timeout time.Duration) (*domain.TaskResult, error) {
	sub := b.rdb.Subscribe(ctx, notifyKey(taskID))
	defer sub.Close()

	if result, err := b.Get(ctx, taskID); err == nil && result.State.IsTerminal() {
		return result, nil
	} else if err != nil && err != domain.ErrNotFound {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-sub.Channel():
		return b.Get(ctx, taskID)
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.ErrTimeout
	}
}
