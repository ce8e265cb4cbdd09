// Package saga implements the Saga orchestrator (spec.md §4.14): an ordered
// chain of steps with per-step compensations, executed one at a time off
// internal/signalbus terminal signals. On the first Failed step the saga
// transitions to Compensating and runs the compensations of every
// previously Completed, RequiresCompensation step in reverse order.
//
// Grounded on the reactive phase-state-machine shape of
// other_examples/1b89cb65_C360Studio-semspec__workflow-reactive-task_execution.go.go
// (state mutated field-by-field, one phase at a time, driving the next
// dispatch) and the dependency-aware dispatcher component shape of
// other_examples/252caf49_C360Studio-semspec__processor-task-dispatcher-component.go.go.
// Only the orchestrator writes saga state; step updates are serialized per
// saga by running one step at a time on the calling goroutine.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/signalbus"
)

// Orchestrator runs sagas to completion, persisting state through Store
// after every transition.
type Orchestrator struct {
	Dispatcher *dispatch.Dispatcher
	Bus        *signalbus.Bus
	Store      domain.SagaStore
}

// Run executes a new saga over steps, blocking until it reaches a terminal
// state (Completed, Compensated, CompensationFailed) or ctx is cancelled.
// The returned Saga reflects the final state even when the returned error
// is non-nil (a Failed, Compensated, or CompensationFailed outcome).
func (o *Orchestrator) Run(ctx context.Context, sagaID string, steps []domain.SagaStep) (*domain.Saga, error) {
	now := time.Now()
	saga := &domain.Saga{ID: sagaID, Steps: steps, State: domain.SagaPending, CreatedAt: now, UpdatedAt: now}
	for i := range saga.Steps {
		saga.Steps[i].State = domain.SagaStepPending
	}
	if err := o.transition(ctx, saga, domain.SagaExecuting); err != nil {
		return saga, err
	}

	sub := o.Bus.Subscribe(ctx)

	for i := range saga.Steps {
		saga.CurrentStepIndex = i
		step := &saga.Steps[i]
		step.State = domain.SagaStepExecuting
		if err := o.save(ctx, saga); err != nil {
			return saga, err
		}

		id, err := o.Dispatcher.Submit(ctx, dispatch.Options{Task: step.ExecuteTask, Args: step.ExecuteArgs, Queue: step.ExecuteQueue})
		if err != nil {
			step.State = domain.SagaStepFailed
			step.FailureReason = err.Error()
			return o.fail(ctx, saga, sub, i, fmt.Sprintf("submit step %s: %v", step.Name, err))
		}
		step.TaskID = id

		sig, err := waitForSignal(ctx, sub, id)
		if err != nil {
			step.State = domain.SagaStepFailed
			step.FailureReason = err.Error()
			return o.fail(ctx, saga, sub, i, fmt.Sprintf("await step %s: %v", step.Name, err))
		}
		if sig.Type != signalbus.TaskSuccess {
			step.State = domain.SagaStepFailed
			step.FailureReason = fmt.Sprintf("step %s ended in %s", step.Name, sig.Type)
			return o.fail(ctx, saga, sub, i, step.FailureReason)
		}

		step.State = domain.SagaStepCompleted
		if err := o.save(ctx, saga); err != nil {
			return saga, err
		}
	}

	if err := o.transition(ctx, saga, domain.SagaCompleted); err != nil {
		return saga, err
	}
	return saga, nil
}

// fail drives saga into Compensating and runs the reverse-order
// compensation of every Completed, RequiresCompensation step before
// failedIndex, landing on Compensated or CompensationFailed.
func (o *Orchestrator) fail(ctx context.Context, saga *domain.Saga, sub <-chan signalbus.Signal, failedIndex int, reason string) (*domain.Saga, error) {
	saga.FailureReason = reason
	if err := o.transition(ctx, saga, domain.SagaCompensating); err != nil {
		return saga, err
	}

	for i := failedIndex - 1; i >= 0; i-- {
		step := &saga.Steps[i]
		if step.State != domain.SagaStepCompleted || !step.RequiresCompensation {
			continue
		}
		step.State = domain.SagaStepCompensating
		if err := o.save(ctx, saga); err != nil {
			return saga, err
		}

		id, err := o.Dispatcher.Submit(ctx, dispatch.Options{Task: step.CompensateTask, Args: step.CompensateArgs, Queue: step.CompensateQueue})
		if err != nil {
			step.State = domain.SagaStepCompFailed
			_ = o.transition(ctx, saga, domain.SagaCompFailed)
			return saga, fmt.Errorf("op=saga.compensate: submit %s: %w", step.Name, err)
		}
		step.CompensateTaskID = id

		sig, err := waitForSignal(ctx, sub, id)
		if err != nil || sig.Type != signalbus.TaskSuccess {
			step.State = domain.SagaStepCompFailed
			_ = o.transition(ctx, saga, domain.SagaCompFailed)
			return saga, fmt.Errorf("op=saga.compensate: step %s compensation failed", step.Name)
		}
		step.State = domain.SagaStepCompensated
		if err := o.save(ctx, saga); err != nil {
			return saga, err
		}
	}

	if err := o.transition(ctx, saga, domain.SagaCompensated); err != nil {
		return saga, err
	}
	return saga, fmt.Errorf("op=saga.run: %s", reason)
}

func (o *Orchestrator) transition(ctx context.Context, saga *domain.Saga, to domain.SagaState) error {
	if !domain.AllowedSagaTransition(saga.State, to) {
		return fmt.Errorf("op=saga.transition: illegal saga transition from %s to %s", saga.State, to)
	}
	saga.State = to
	return o.save(ctx, saga)
}

func (o *Orchestrator) save(ctx context.Context, saga *domain.Saga) error {
	saga.UpdatedAt = time.Now()
	if o.Store == nil {
		return nil
	}
	if err := o.Store.Save(ctx, *saga); err != nil {
		return fmt.Errorf("op=saga.save: %w", err)
	}
	return nil
}

func waitForSignal(ctx context.Context, ch <-chan signalbus.Signal, taskID string) (signalbus.Signal, error) {
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return signalbus.Signal{}, domain.ErrNotFound
			}
			if sig.TaskID == taskID {
				return sig, nil
			}
		case <-ctx.Done():
			return signalbus.Signal{}, ctx.Err()
		}
	}
}
