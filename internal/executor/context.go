package executor

import "context"

// ReportProgressFunc reports a task's completion percentage to the
// backend, bound to the invocation's task id.
type ReportProgressFunc func(ctx context.Context, percent float64) error

// TaskContext carries the per-invocation fields a handler receives
// alongside its input (spec §4.12 step 8: task id, retry count,
// cancellation channel, progress reporter, tenant id). The cancellation
// signal itself is the ctx passed to the handler: the time-limit enforcer
// cancels it on a soft-limit breach, so handlers that want to notice
// should select on ctx.Done() rather than a separate channel.
type TaskContext struct {
	TaskID         string
	TaskName       string
	Retries        int
	TenantID       string
	CorrelationID  string
	ReportProgress ReportProgressFunc
}

type taskContextKey struct{}

func withTaskContext(ctx context.Context, tc *TaskContext) context.Context {
	return context.WithValue(ctx, taskContextKey{}, tc)
}

// FromContext returns the TaskContext a handler is executing under.
func FromContext(ctx context.Context) (*TaskContext, bool) {
	tc, ok := ctx.Value(taskContextKey{}).(*TaskContext)
	return tc, ok
}
