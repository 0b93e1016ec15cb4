package callbacks

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// StopAfter cancels a run once a given node has finished. The matching
// node keeps its output but reports Canceled, so enclosing sequences stop
// with that output as their partial result. Every node visited afterwards
// is skipped with Canceled until Reset.
type StopAfter struct {
	match   func(inference.Node) bool
	label   string
	stopped atomic.Bool
}

// NewStopAfter stops after the first node named name finishes.
func NewStopAfter(name string) *StopAfter {
	return &StopAfter{
		match: func(n inference.Node) bool { return n.Name() == name },
		label: name,
	}
}

// NewStopAfterNode stops after node itself finishes.
func NewStopAfterNode(node inference.Node) *StopAfter {
	return &StopAfter{
		match: func(n inference.Node) bool { return inference.Same(n, node) },
		label: node.Name(),
	}
}

func (c *StopAfter) PreInference(context.Context, *inference.Stack, inference.Event) inference.Override {
	if c.stopped.Load() {
		return inference.ForceCancel()
	}
	return inference.Keep()
}

func (c *StopAfter) PostInference(_ context.Context, _ *inference.Stack, ev inference.Event) inference.Override {
	if ev.Code != inference.Finished {
		return inference.Keep()
	}
	if c.stopped.Load() {
		return inference.ForceCancel()
	}
	if c.match(ev.Node) {
		c.stopped.Store(true)
		return inference.Keep().WithCode(inference.Canceled).WithOutput(ev.Output)
	}
	return inference.Keep()
}

// Stopped reports whether the target node has finished.
func (c *StopAfter) Stopped() bool {
	return c.stopped.Load()
}

// Reset arms the callback again for a new run.
func (c *StopAfter) Reset() {
	c.stopped.Store(false)
}

func (c *StopAfter) String() string {
	return fmt.Sprintf("StopAfter(%s)", c.label)
}

var _ inference.Callback = (*StopAfter)(nil)
