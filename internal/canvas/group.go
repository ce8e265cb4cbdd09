package canvas

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/signalbus"
)

// Group fans out a set of signatures concurrently and completes once every
// child has reached a terminal signal.
type Group struct {
	Signatures []Signature
	Dispatcher *dispatch.Dispatcher
	Bus        *signalbus.Bus
}

// GroupResult records every child's task id and outcome, keyed by task id.
type GroupResult struct {
	TaskIDs []string
	Results map[string]domain.TaskResult
}

// Run submits every signature, then blocks until all children are
// terminal or ctx is cancelled.
func (g *Group) Run(ctx context.Context) (*GroupResult, error) {
	sub := g.Bus.Subscribe(ctx)

	ids := make([]string, 0, len(g.Signatures))
	pending := make(map[string]struct{}, len(g.Signatures))
	for _, sig := range g.Signatures {
		id, err := g.Dispatcher.Submit(ctx, sig.options(sig.Args))
		if err != nil {
			return nil, fmt.Errorf("op=canvas.group.run: submit %s: %w", sig.Task, err)
		}
		ids = append(ids, id)
		pending[id] = struct{}{}
	}

	results := make(map[string]domain.TaskResult, len(ids))
	for len(pending) > 0 {
		select {
		case sig, ok := <-sub:
			if !ok {
				return &GroupResult{TaskIDs: ids, Results: results}, domain.ErrNotFound
			}
			if _, isChild := pending[sig.TaskID]; !isChild {
				continue
			}
			results[sig.TaskID] = sig.Result
			delete(pending, sig.TaskID)
		case <-ctx.Done():
			return &GroupResult{TaskIDs: ids, Results: results}, ctx.Err()
		}
	}
	return &GroupResult{TaskIDs: ids, Results: results}, nil
}
