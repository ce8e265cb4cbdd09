//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/testutil"
)

const schemaDDL = `
CREATE TABLE broker_messages (
	id TEXT PRIMARY KEY,
	queue TEXT NOT NULL,
	payload JSONB NOT NULL,
	priority INT NOT NULL DEFAULT 0,
	eta TIMESTAMPTZ,
	leased_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func newTestBroker(t *testing.T) *Broker {
	return New(testutil.PostgresContainer(t, schemaDDL), 50*time.Millisecond)
}

func TestPublishLeaseAck(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "1", Queue: "q", Priority: 1}))

	ch, err := b.Consume(ctx, []string{"q"})
	require.NoError(t, err)

	d := <-ch
	require.Equal(t, "1", d.Message.ID)
	require.NoError(t, b.Ack(ctx, d))

	n, err := b.QueueLength(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestNackRequeueWithDelay(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "1", Queue: "q"}))
	ch, err := b.Consume(ctx, []string{"q"})
	require.NoError(t, err)

	d := <-ch
	require.NoError(t, b.Nack(ctx, d, true, 50*time.Millisecond))

	n, err := b.QueueLength(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, 0, n)

	time.Sleep(100 * time.Millisecond)
	d2 := <-ch
	require.Equal(t, "1", d2.Message.ID)
}
