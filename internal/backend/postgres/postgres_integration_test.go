//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/testutil"
)

const schemaDDL = `
CREATE TABLE task_results (
	task_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func newTestBackend(t *testing.T) *Backend {
	return New(testutil.PostgresContainer(t, schemaDDL))
}

func TestStoreGetUpdateState(t *testing.T) {
	b := newTestBackend(t)

	ctx := context.Background()
	require.NoError(t, b.Store(ctx, domain.TaskResult{TaskID: "1", State: domain.StatePending}))
	require.NoError(t, b.UpdateState(ctx, "1", domain.StateReceived, nil))
	require.NoError(t, b.UpdateState(ctx, "1", domain.StateStarted, nil))
	require.NoError(t, b.UpdateState(ctx, "1", domain.StateSuccess, nil))

	got, err := b.Get(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, domain.StateSuccess, got.State)

	err = b.UpdateState(ctx, "1", domain.StateStarted, nil)
	require.Error(t, err)
}

func TestConcurrentUpdateStateSerializes(t *testing.T) {
	b := newTestBackend(t)

	ctx := context.Background()
	require.NoError(t, b.Store(ctx, domain.TaskResult{TaskID: "1", State: domain.StateReceived}))

	errs := make(chan error, 2)
	go func() { errs <- b.UpdateState(ctx, "1", domain.StateStarted, nil) }()
	go func() { errs <- b.UpdateState(ctx, "1", domain.StateStarted, nil) }()

	e1, e2 := <-errs, <-errs
	require.True(t, e1 == nil || e2 == nil)
}
