package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndGet(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, domain.TaskResult{TaskID: "1", State: domain.StateSuccess}))

	got, err := b.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, got.State)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	b := New()
	_, err := b.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateStateValidTransition(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.UpdateState(ctx, "1", domain.StatePending, nil))
	require.NoError(t, b.UpdateState(ctx, "1", domain.StateReceived, nil))
	require.NoError(t, b.UpdateState(ctx, "1", domain.StateStarted, nil))
	require.NoError(t, b.UpdateState(ctx, "1", domain.StateSuccess, nil))

	state, ok, err := b.GetState(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StateSuccess, state)
}

func TestUpdateStateInvalidTransition(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, domain.TaskResult{TaskID: "1", State: domain.StateSuccess}))

	err := b.UpdateState(ctx, "1", domain.StateStarted, nil)
	require.Error(t, err)
	var transitionErr *domain.InvalidTransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestWaitForResultUnblocksOnTerminalState(t *testing.T) {
	b := New()
	ctx := context.Background()

	done := make(chan *domain.TaskResult, 1)
	go func() {
		r, err := b.WaitForResult(ctx, "1", time.Second)
		require.NoError(t, err)
		done <- r
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Store(ctx, domain.TaskResult{TaskID: "1", State: domain.StateSuccess}))

	select {
	case r := <-done:
		assert.Equal(t, domain.StateSuccess, r.State)
	case <-time.After(time.Second):
		t.Fatal("WaitForResult did not unblock")
	}
}

func TestWaitForResultTimesOut(t *testing.T) {
	b := New()
	_, err := b.WaitForResult(context.Background(), "never", 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}
