package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brokermem "github.com/fairyhunter13/taskqueue/internal/broker/memory"
	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	sagamem "github.com/fairyhunter13/taskqueue/internal/saga/store/memory"
	"github.com/fairyhunter13/taskqueue/internal/signalbus"
)

func TestOrchestratorRunCompletesWhenAllStepsSucceed(t *testing.T) {
	b := brokermem.New()
	bus := signalbus.New()
	store := sagamem.New()
	orch := &Orchestrator{Dispatcher: &dispatch.Dispatcher{Broker: b}, Bus: bus, Store: store}

	steps := []domain.SagaStep{
		{Name: "reserve", ExecuteTask: "reserve", ExecuteQueue: "q", RequiresCompensation: true, CompensateTask: "release", CompensateQueue: "q"},
		{Name: "charge", ExecuteTask: "charge", ExecuteQueue: "q"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan *domain.Saga, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := orch.Run(ctx, "saga-1", steps)
		resultCh <- s
		errCh <- err
	}()

	first := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: first.ID, Result: domain.TaskResult{TaskID: first.ID, State: domain.StateSuccess}})
	second := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: second.ID, Result: domain.TaskResult{TaskID: second.ID, State: domain.StateSuccess}})

	result := <-resultCh
	err := <-errCh
	require.NoError(t, err)
	assert.Equal(t, domain.SagaCompleted, result.State)
	assert.Equal(t, domain.SagaStepCompleted, result.Steps[0].State)
	assert.Equal(t, domain.SagaStepCompleted, result.Steps[1].State)

	stored, err := store.Get(context.Background(), "saga-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SagaCompleted, stored.State)
}

func TestOrchestratorRunCompensatesCompletedStepOnLaterFailure(t *testing.T) {
	b := brokermem.New()
	bus := signalbus.New()
	store := sagamem.New()
	orch := &Orchestrator{Dispatcher: &dispatch.Dispatcher{Broker: b}, Bus: bus, Store: store}

	steps := []domain.SagaStep{
		{Name: "reserve", ExecuteTask: "reserve", ExecuteQueue: "q", RequiresCompensation: true, CompensateTask: "release", CompensateQueue: "compensate-q"},
		{Name: "charge", ExecuteTask: "charge", ExecuteQueue: "q"},
		{Name: "ship", ExecuteTask: "ship", ExecuteQueue: "q"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan *domain.Saga, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := orch.Run(ctx, "saga-2", steps)
		resultCh <- s
		errCh <- err
	}()

	reserveDelivery := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: reserveDelivery.ID, Result: domain.TaskResult{TaskID: reserveDelivery.ID, State: domain.StateSuccess}})

	chargeDelivery := mustPop(t, b, "q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskFailure, TaskID: chargeDelivery.ID, Result: domain.TaskResult{TaskID: chargeDelivery.ID, State: domain.StateFailure}})

	compensateDelivery := mustPop(t, b, "compensate-q")
	bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: compensateDelivery.ID, Result: domain.TaskResult{TaskID: compensateDelivery.ID, State: domain.StateSuccess}})

	result := <-resultCh
	err := <-errCh
	assert.Error(t, err)
	assert.Equal(t, domain.SagaCompensated, result.State)
	assert.Equal(t, domain.SagaStepCompensated, result.Steps[0].State)
	assert.Equal(t, domain.SagaStepFailed, result.Steps[1].State)
	assert.Equal(t, domain.SagaStepPending, result.Steps[2].State)

	n, _ := b.QueueLength(context.Background(), "q")
	assert.Equal(t, 0, n)
}

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
