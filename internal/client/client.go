// Package client implements the external-facing Send/AsyncResult API (spec
// §6 "Client API"), re-exported from the module root. Grounded on the
// teacher's internal/usecase/evaluate.go EvaluateService.Enqueue shape
// (validate → idempotency check → persist → enqueue, structured logging at
// each step inside an otel span), generalized from one hard-coded task to
// any registered task name.
package client

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/observability"
	"github.com/fairyhunter13/taskqueue/internal/router"
)

// Client bundles the dependencies Send and AsyncResult need: a Dispatcher
// for submission, a ResultBackend for idempotency checks and Get, a
// RevocationStore for Revoke, and a Serializer for input/output marshaling.
type Client struct {
	Dispatcher  *dispatch.Dispatcher
	Backend     domain.ResultBackend
	Revocations domain.RevocationStore
	Serializer  domain.Serializer
	Router      *router.Router
}

// SendOptions configures one Send call (spec §6).
type SendOptions struct {
	Eta           *time.Time
	Countdown     *time.Duration
	Expires       *time.Time
	Queue         string
	Priority      int
	MaxRetries    *int
	TaskID        string
	CorrelationID string
	TenantID      string
	Headers       map[string]string
}

// Validate checks Priority range, MaxRetries/Countdown non-negativity, and
// Expires against the effective ETA (Countdown wins over Eta when both are
// set).
func (o SendOptions) Validate() error {
	if o.Priority < 0 || o.Priority > 9 {
		return fmt.Errorf("priority must be in [0,9], got %d", o.Priority)
	}
	if o.MaxRetries != nil && *o.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", *o.MaxRetries)
	}
	if o.Countdown != nil && *o.Countdown < 0 {
		return fmt.Errorf("countdown must be >= 0, got %s", *o.Countdown)
	}
	if o.Expires != nil {
		effective := time.Now()
		switch {
		case o.Countdown != nil:
			effective = effective.Add(*o.Countdown)
		case o.Eta != nil:
			effective = *o.Eta
		}
		if o.Expires.Before(effective) {
			return fmt.Errorf("expires must be >= effective eta")
		}
	}
	return nil
}

// AsyncResult is a handle carrying a task id and a way to wait for its
// terminal result or revoke it before/during execution.
type AsyncResult[Output any] struct {
	TaskID string
	client *Client
}

// Get blocks until the task reaches a terminal state or timeout elapses. A
// Failure or Rejected terminal state surfaces as *domain.TaskExecutionError;
// an empty result payload returns the zero Output.
func (a *AsyncResult[Output]) Get(ctx context.Context, timeout time.Duration) (Output, error) {
	var zero Output
	if a.client == nil || a.client.Backend == nil {
		return zero, fmt.Errorf("op=client.get: no result backend configured")
	}
	result, err := a.client.Backend.WaitForResult(ctx, a.TaskID, timeout)
	if err != nil {
		return zero, fmt.Errorf("op=client.get: %w", err)
	}
	if result.State == domain.StateFailure || result.State == domain.StateRejected {
		return zero, &domain.TaskExecutionError{Result: *result}
	}
	if len(result.Result) == 0 {
		return zero, nil
	}
	var out Output
	if err := a.client.Serializer.Deserialize(result.Result, &out); err != nil {
		return zero, fmt.Errorf("op=client.get: %w", err)
	}
	return out, nil
}

// Revoke marks the task revoked via the client's RevocationStore.
func (a *AsyncResult[Output]) Revoke(ctx context.Context, opts domain.RevokeOptions) error {
	if a.client == nil || a.client.Revocations == nil {
		return fmt.Errorf("op=client.revoke: no revocation store configured")
	}
	if err := a.client.Revocations.Revoke(ctx, a.TaskID, opts); err != nil {
		return fmt.Errorf("op=client.revoke: %w", err)
	}
	return nil
}

// Send validates opts, checks for an idempotent replay when TaskID is set,
// serializes input, resolves the destination queue, and submits the task,
// returning a typed AsyncResult handle.
func Send[Input, Output any](ctx context.Context, c *Client, task string, input Input, opts SendOptions) (*AsyncResult[Output], error) {
	tr := otel.Tracer("client")
	ctx, span := tr.Start(ctx, "client.Send")
	defer span.End()

	lg := observability.LoggerFromContext(ctx)
	lg.Info("send", "task", task, "task_id", opts.TaskID)

	if err := opts.Validate(); err != nil {
		lg.Error("send validation failed", "task", task, "error", err)
		return nil, fmt.Errorf("op=client.send: %w", err)
	}

	if opts.TaskID != "" && c.Backend != nil {
		if _, found, err := c.Backend.GetState(ctx, opts.TaskID); err == nil && found {
			lg.Info("send idempotent hit", "task", task, "task_id", opts.TaskID)
			return &AsyncResult[Output]{TaskID: opts.TaskID, client: c}, nil
		}
	}

	args, err := c.Serializer.Serialize(input)
	if err != nil {
		lg.Error("send serialize failed", "task", task, "error", err)
		return nil, fmt.Errorf("op=client.send: %w", err)
	}

	queue := opts.Queue
	if queue == "" && c.Router != nil {
		queue = c.Router.Resolve(task, opts.TenantID)
	}

	var eta *time.Time
	switch {
	case opts.Countdown != nil:
		t := time.Now().Add(*opts.Countdown)
		eta = &t
	case opts.Eta != nil:
		eta = opts.Eta
	}

	id, err := c.Dispatcher.Submit(ctx, dispatch.Options{
		TaskID:        opts.TaskID,
		Task:          task,
		Queue:         queue,
		Args:          args,
		Priority:      opts.Priority,
		ETA:           eta,
		Expires:       opts.Expires,
		MaxRetries:    opts.MaxRetries,
		CorrelationID: opts.CorrelationID,
		TenantID:      opts.TenantID,
		Headers:       opts.Headers,
	})
	if err != nil {
		lg.Error("send dispatch failed", "task", task, "error", err)
		return nil, fmt.Errorf("op=client.send: %w", err)
	}

	lg.Info("send dispatched", "task", task, "task_id", id)
	return &AsyncResult[Output]{TaskID: id, client: c}, nil
}
