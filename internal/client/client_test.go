package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	backendmem "github.com/fairyhunter13/taskqueue/internal/backend/memory"
	brokermem "github.com/fairyhunter13/taskqueue/internal/broker/memory"
	"github.com/fairyhunter13/taskqueue/internal/delay"
	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	revocationmem "github.com/fairyhunter13/taskqueue/internal/revocation/memory"
	"github.com/fairyhunter13/taskqueue/internal/serializer"
)

type greetInput struct {
	Name string `json:"name"`
}

type greetOutput struct {
	Message string `json:"message"`
}

func newTestClient() (*Client, *brokermem.Broker, *backendmem.Backend) {
	b := brokermem.New()
	backend := backendmem.New()
	return &Client{
		Dispatcher: &dispatch.Dispatcher{Broker: b, Backend: backend},
		Backend:    backend,
		Serializer: serializer.NewJSON(nil),
	}, b, backend
}

func TestSendValidatesPriorityRange(t *testing.T) {
	c, _, _ := newTestClient()
	_, err := Send[greetInput, greetOutput](context.Background(), c, "greet", greetInput{Name: "a"}, SendOptions{Priority: 10})
	assert.Error(t, err)
}

func TestSendValidatesExpiresBeforeEta(t *testing.T) {
	c, _, _ := newTestClient()
	past := time.Now().Add(-time.Hour)
	_, err := Send[greetInput, greetOutput](context.Background(), c, "greet", greetInput{Name: "a"}, SendOptions{Expires: &past})
	assert.Error(t, err)
}

func TestSendPublishesSerializedArgs(t *testing.T) {
	c, b, backend := newTestClient()
	result, err := Send[greetInput, greetOutput](context.Background(), c, "greet", greetInput{Name: "ada"}, SendOptions{Queue: "q"})
	require.NoError(t, err)
	require.NotEmpty(t, result.TaskID)

	n, _ := b.QueueLength(context.Background(), "q")
	assert.Equal(t, 1, n)

	state, found, err := backend.GetState(context.Background(), result.TaskID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.StatePending, state)
}

func TestSendCountdownWinsOverEta(t *testing.T) {
	b := brokermem.New()
	backend := backendmem.New()
	delayDispatcher := delay.NewDispatcher(b, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go delayDispatcher.Run(ctx)

	c := &Client{
		Dispatcher: &dispatch.Dispatcher{Broker: b, Backend: backend, Delay: delayDispatcher},
		Backend:    backend,
		Serializer: serializer.NewJSON(nil),
	}

	eta := time.Now().Add(time.Hour)
	countdown := 150 * time.Millisecond
	_, err := Send[greetInput, greetOutput](context.Background(), c, "greet", greetInput{Name: "ada"}, SendOptions{Queue: "q", Eta: &eta, Countdown: &countdown})
	require.NoError(t, err)

	n, _ := b.QueueLength(context.Background(), "q")
	assert.Equal(t, 0, n, "message must not be visible before the countdown elapses")

	require.Eventually(t, func() bool {
		n, _ := b.QueueLength(context.Background(), "q")
		return n == 1
	}, time.Second, 10*time.Millisecond, "message must become visible once the countdown elapses")
}

func TestSendIdempotentReplaySkipsResubmit(t *testing.T) {
	c, b, backend := newTestClient()
	require.NoError(t, backend.Store(context.Background(), domain.TaskResult{TaskID: "fixed-id", State: domain.StatePending}))

	result, err := Send[greetInput, greetOutput](context.Background(), c, "greet", greetInput{Name: "ada"}, SendOptions{TaskID: "fixed-id", Queue: "q"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", result.TaskID)

	n, _ := b.QueueLength(context.Background(), "q")
	assert.Equal(t, 0, n)
}

func TestAsyncResultGetReturnsDeserializedOutput(t *testing.T) {
	c, _, backend := newTestClient()
	result := &AsyncResult[greetOutput]{TaskID: "task-1", client: c}

	go func() {
		time.Sleep(10 * time.Millisecond)
		payload, _ := c.Serializer.Serialize(greetOutput{Message: "hi ada"})
		_ = backend.Store(context.Background(), domain.TaskResult{TaskID: "task-1", State: domain.StateSuccess, Result: payload})
	}()

	out, err := result.Get(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi ada", out.Message)
}

func TestAsyncResultGetReturnsTaskExecutionErrorOnFailure(t *testing.T) {
	c, _, backend := newTestClient()
	require.NoError(t, backend.Store(context.Background(), domain.TaskResult{TaskID: "task-2", State: domain.StateFailure, Exception: &domain.ExceptionInfo{Message: "boom"}}))

	result := &AsyncResult[greetOutput]{TaskID: "task-2", client: c}
	_, err := result.Get(context.Background(), time.Second)
	require.Error(t, err)
	var execErr *domain.TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, domain.StateFailure, execErr.Result.State)
}

func TestAsyncResultRevokeCallsRevocationStore(t *testing.T) {
	c, _, _ := newTestClient()
	revocations := revocationmem.New()
	c.Revocations = revocations

	result := &AsyncResult[greetOutput]{TaskID: "task-3", client: c}
	require.NoError(t, result.Revoke(context.Background(), domain.RevokeOptions{Terminate: true}))

	revoked, err := revocations.IsRevoked(context.Background(), "task-3")
	require.NoError(t, err)
	assert.True(t, revoked)
}
