package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "partition-a", "task-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAcquire(ctx, "partition-a", "task-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryAcquireSameHolderIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.TryAcquire(ctx, "p", "task-1", time.Minute)

	ok, err := s.TryAcquire(ctx, "p", "task-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.TryAcquire(ctx, "p", "task-1", time.Minute)

	released, err := s.Release(ctx, "p", "task-1")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err := s.TryAcquire(ctx, "p", "task-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseWrongHolderFails(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.TryAcquire(ctx, "p", "task-1", time.Minute)

	released, err := s.Release(ctx, "p", "task-2")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestExpiredLockCanBeReacquired(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.TryAcquire(ctx, "p", "task-1", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	ok, err := s.TryAcquire(ctx, "p", "task-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHolderReportsCurrentOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.TryAcquire(ctx, "p", "task-1", time.Minute)

	holder, ok, err := s.Holder(ctx, "p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "task-1", holder)
}
