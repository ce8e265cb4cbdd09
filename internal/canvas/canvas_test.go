package canvas

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	brokermem "github.com/fairyhunter13/taskqueue/internal/broker/memory"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/signalbus"
)

func TestChainRunWaitsForEachStepInOrder(t *testing.T) {
	b := brokermem.New()
	bus := signalbus.New()
	d := &dispatch.Dispatcher{Broker: b}
	chain := &Chain{Steps: []Signature{{Task: "step-a", Queue: "q"}, {Task: "step-b", Queue: "q"}}, Dispatcher: d, Bus: bus}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *ChainResult, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := chain.Run(ctx)
		done <- r
		errCh <- err
	}()

	// Drive the chain manually, simulating an executor publishing success
	// signals as each step's delivery is picked up.
	first := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: first.ID, Result: domain.TaskResult{TaskID: first.ID, State: domain.StateSuccess, Result: []byte(`{"n":1}`)}})

	second := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: second.ID, Result: domain.TaskResult{TaskID: second.ID, State: domain.StateSuccess, Result: []byte(`{"n":2}`)}})

	result := <-done
	err := <-errCh
	require.NoError(t, err)
	require.Len(t, result.TaskIDs, 2)
	assert.Equal(t, domain.StateSuccess, result.FinalResult.State)
}

func TestChainRunStopsOnNonSuccessStep(t *testing.T) {
	b := brokermem.New()
	bus := signalbus.New()
	d := &dispatch.Dispatcher{Broker: b}
	chain := &Chain{Steps: []Signature{{Task: "step-a", Queue: "q"}, {Task: "step-b", Queue: "q"}}, Dispatcher: d, Bus: bus}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := chain.Run(ctx)
		errCh <- err
	}()

	first := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskFailure, TaskID: first.ID, Result: domain.TaskResult{TaskID: first.ID, State: domain.StateFailure}})

	err := <-errCh
	assert.Error(t, err)

	n, _ := b.QueueLength(context.Background(), "q")
	assert.Equal(t, 0, n)
}

func TestGroupRunCompletesWhenAllChildrenTerminal(t *testing.T) {
	b := brokermem.New()
	bus := signalbus.New()
	d := &dispatch.Dispatcher{Broker: b}
	group := &Group{Signatures: []Signature{{Task: "a", Queue: "q"}, {Task: "b", Queue: "q"}}, Dispatcher: d, Bus: bus}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan *GroupResult, 1)
	go func() {
		r, _ := group.Run(ctx)
		resultCh <- r
	}()

	first := mustPop(t, b, "q")
	second := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: first.ID, Result: domain.TaskResult{TaskID: first.ID, State: domain.StateSuccess}})
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: second.ID, Result: domain.TaskResult{TaskID: second.ID, State: domain.StateSuccess}})

	result := <-resultCh
	assert.Len(t, result.Results, 2)
}

func TestChordRunFiresCallbackAfterGroupSucceeds(t *testing.T) {
	b := brokermem.New()
	bus := signalbus.New()
	d := &dispatch.Dispatcher{Broker: b}
	chord := &Chord{
		Group:      &Group{Signatures: []Signature{{Task: "a", Queue: "q"}}, Dispatcher: d, Bus: bus},
		Callback:   Signature{Task: "callback", Queue: "cb-q"},
		Dispatcher: d,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	idCh := make(chan string, 1)
	go func() {
		id, err := chord.Run(ctx)
		require.NoError(t, err)
		idCh <- id
	}()

	child := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: child.ID, Result: domain.TaskResult{TaskID: child.ID, State: domain.StateSuccess, Result: []byte(`{}`)}})

	<-idCh
	n, _ := b.QueueLength(context.Background(), "cb-q")
	assert.Equal(t, 1, n)
}

func TestBatchTrackerAggregatesProgress(t *testing.T) {
	bus := signalbus.New()
	tracker := NewBatchTracker("batch-1", []string{"1", "2"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker.Observe(ctx, bus)

	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: "1"})
	bus.Publish(signalbus.Signal{Type: signalbus.TaskFailure, TaskID: "2"})

	require.Eventually(t, func() bool {
		snap := tracker.Snapshot()
		return snap.Pending == 0
	}, time.Second, 5*time.Millisecond)

	snap := tracker.Snapshot()
	assert.Equal(t, domain.BatchFailed, snap.State)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 1, snap.Failed)
}

// mustPop polls the memory broker's internal queue via Consume for a
// single delivery and returns its message (memory pops on delivery, so no
// Ack is needed) so tests can simulate an executor's lease-then-signal cycle without importing
// the executor package.
func mustPop(t *testing.T, b *brokermem.Broker, queue string) domain.TaskMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	deliveries, err := b.Consume(ctx, []string{queue})
	require.NoError(t, err)
	select {
	case d := <-deliveries:
		return d.Message
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
		return domain.TaskMessage{}
	}
}
