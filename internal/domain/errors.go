package domain

import (
	"errors"
	"time"
)

// Error taxonomy (sentinels). These are surfaced to callers and to
// telemetry; see package observability for how they are logged.
var (
	// ErrUnknownTask means a task name was not found in the registry.
	// Non-retryable; the worker rejects the message without requeue.
	ErrUnknownTask = errors.New("unknown task")
	// ErrSerializationError means input/output bytes could not be mapped
	// to/from a registered type. Non-retryable; becomes a Failure result.
	ErrSerializationError = errors.New("serialization error")
	// ErrInvalidTransition means a forbidden state edge was attempted on
	// ResultBackend.UpdateState. Never becomes a task outcome.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrBrokerUnavailable is a transient broker error, retried by the
	// owning layer (outbox dispatcher, consume loop) with backoff.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrBackendUnavailable is a transient backend error, retried with
	// backoff by the caller.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTimeout means a wait_for_result call exceeded its timeout.
	ErrTimeout = errors.New("timeout waiting for result")
	// ErrLockHeld means a partition lock could not be acquired because
	// another unexpired holder exists.
	ErrLockHeld = errors.New("partition lock held")
	// ErrInvalidArgument means a caller-supplied submission failed
	// validation (e.g. dispatch.Options missing a task name).
	// Non-retryable; the caller must fix the request and resubmit.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Retry is a cooperative signal a handler returns (not raises) to ask the
// executor to requeue the task with backoff. It carries an optional
// countdown overriding the default backoff calculation.
type Retry struct {
	Countdown *time.Duration
	Cause     error
}

func (r *Retry) Error() string {
	if r.Cause != nil {
		return "retry: " + r.Cause.Error()
	}
	return "retry requested"
}

func (r *Retry) Unwrap() error { return r.Cause }

// Reject is a cooperative signal a handler returns to ask the executor to
// mark the task Rejected. Requeue controls whether the broker nacks with
// requeue=true or false.
type Reject struct {
	Requeue bool
	Cause   error
}

func (r *Reject) Error() string {
	if r.Cause != nil {
		return "reject: " + r.Cause.Error()
	}
	return "reject requested"
}

func (r *Reject) Unwrap() error { return r.Cause }

// SoftTimeLimitExceeded is the error timelimit.Run reports when the soft
// time limit cancelled a handler's context and the handler then returned
// without an error of its own. If the handler does not return, the hard
// limit ends the run with a TimeoutError.
type SoftTimeLimitExceeded struct{}

func (SoftTimeLimitExceeded) Error() string { return "soft time limit exceeded" }

// TimeoutError is surfaced as the Failure exception when a handler's hard
// time limit expires and its context is cancelled.
type TimeoutError struct{ Limit time.Duration }

func (e TimeoutError) Error() string { return "hard time limit exceeded: " + e.Limit.String() }

// OperationCanceled is surfaced when a task is cancelled externally
// (revocation, host shutdown) rather than by a time limit; it maps to
// Revoked, not Failure.
type OperationCanceled struct{ Reason string }

func (e OperationCanceled) Error() string { return "operation canceled: " + e.Reason }

// TaskExecutionError is returned by AsyncResult.Get when the stored
// terminal state is Failure or Rejected. It carries the stored TaskResult
// so callers can inspect Exception / State without a second fetch.
type TaskExecutionError struct {
	Result TaskResult
}

func (e *TaskExecutionError) Error() string {
	if e.Result.Exception != nil {
		return "task " + e.Result.TaskID + " " + string(e.Result.State) + ": " + e.Result.Exception.Message
	}
	return "task " + e.Result.TaskID + " ended in state " + string(e.Result.State)
}

// InvalidTransitionError wraps ErrInvalidTransition with the offending edge.
type InvalidTransitionError struct {
	TaskID   string
	From, To TaskState
}

func (e *InvalidTransitionError) Error() string {
	return "op=backend.update_state: invalid transition for task " + e.TaskID + " from " + string(e.From) + " to " + string(e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
