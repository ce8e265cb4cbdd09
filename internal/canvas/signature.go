// Package canvas implements the Chain, Group, and Chord composition
// primitives (spec §4.14): reactive, signalbus-driven orchestration of
// task signatures, narrowed from the general dependency-DAG idiom of
// other_examples/74d804f5_88lin-divinesense__ai-agents-orchestrator-dag_scheduler.go.go
// (Kahn's-algorithm in-degree tracking over an arbitrary graph) to the
// three fixed shapes the spec names: a linear chain, a fan-out group, and
// a group-plus-callback chord.
package canvas

import "github.com/fairyhunter13/taskqueue/internal/dispatch"

// Signature is one task submission inside a Chain, Group, or Chord:
// everything dispatch.Options needs except the task id, which canvas
// assigns on submission.
type Signature struct {
	Task     string
	Args     []byte
	Queue    string
	Priority int
	TenantID string
}

func (s Signature) options(args []byte) dispatch.Options {
	return dispatch.Options{Task: s.Task, Args: args, Queue: s.Queue, Priority: s.Priority, TenantID: s.TenantID}
}
