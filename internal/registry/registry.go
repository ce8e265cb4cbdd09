// Package registry implements the task registry: a name-keyed, read-mostly
// map from a registered task name to its handler descriptor and policy
// (spec §4.8). Mutation uses copy-on-write so concurrent readers on the
// worker's hot path never see a torn map, matching spec §5's "Shared
// resources" requirement and the teacher's asynq.ServeMux-style dispatch
// table (internal/adapter/queue/asynq/worker.go) generalized from a single
// hard-coded task to an open set of registered tasks.
package registry

import (
	"context"
	"sync/atomic"
	"time"
)

// HandlerFunc is the type-erased handler signature every registered task
// satisfies. input/output are boxed `any` values whose concrete type is
// recorded in the TaskDescriptor; the thin typed façade in package client
// restores type safety for callers.
type HandlerFunc func(ctx context.Context, input any) (any, error)

// PartitionKeyFunc derives a partition key from a task's deserialized
// input, or returns ("", false) when the task does not participate in
// partition serialization.
type PartitionKeyFunc func(input any) (string, bool)

// TaskDescriptor is the type-erased handler descriptor stored per
// registered task name (spec §9 "Dynamic registry").
type TaskDescriptor struct {
	Name             string
	Handler          HandlerFunc
	InputTypeName    string
	OutputTypeName   string
	Route            string
	SoftTimeLimit    time.Duration
	HardTimeLimit    time.Duration
	MaxRetries       int
	PartitionKeyFunc PartitionKeyFunc
}

// Registry is a copy-on-write, concurrent-safe task registry.
type Registry struct {
	tasks atomic.Pointer[map[string]*TaskDescriptor]
}

// New constructs an empty Registry.
func New() *Registry {
	r := &Registry{}
	empty := map[string]*TaskDescriptor{}
	r.tasks.Store(&empty)
	return r
}

// Register adds or replaces the descriptor for d.Name, publishing a new
// map so existing readers keep observing the previous snapshot.
func (r *Registry) Register(d *TaskDescriptor) {
	for {
		old := r.tasks.Load()
		next := make(map[string]*TaskDescriptor, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[d.Name] = d
		if r.tasks.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*TaskDescriptor, bool) {
	m := *r.tasks.Load()
	d, ok := m[name]
	return d, ok
}

// Names returns every registered task name.
func (r *Registry) Names() []string {
	m := *r.tasks.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
