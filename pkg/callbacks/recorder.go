package callbacks

import (
	"context"
	"sync"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// Visit is one completed node visit captured by a Recorder.
type Visit struct {
	Path   string
	Node   string
	Depth  int
	Input  inference.Value
	Output inference.Value
	Code   inference.ReturnCode
	Err    error
}

// Recorder keeps every completed visit in memory, in completion order.
// It is meant for debugging and tests.
type Recorder struct {
	inference.NopCallback

	mu     sync.Mutex
	visits []Visit
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) PostInference(_ context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visits = append(r.visits, Visit{
		Path:   stack.Path(),
		Node:   ev.Node.Name(),
		Depth:  stack.Depth(),
		Input:  ev.Input,
		Output: ev.Output,
		Code:   ev.Code,
		Err:    ev.Err,
	})
	return inference.Keep()
}

// Visits returns a copy of the recorded visits.
func (r *Recorder) Visits() []Visit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Visit(nil), r.visits...)
}

// Paths returns the recorded paths in completion order.
func (r *Recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, len(r.visits))
	for i, v := range r.visits {
		paths[i] = v.Path
	}
	return paths
}

// Reset forgets every recorded visit.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.visits = nil
	r.mu.Unlock()
}

var _ inference.Callback = (*Recorder)(nil)
