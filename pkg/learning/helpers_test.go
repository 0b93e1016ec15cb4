package learning

import (
	"context"
	"sync"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// meanNode predicts the mean supervision of the examples it was updated with.
type meanNode struct {
	inference.BaseNode

	mu      sync.Mutex
	sum     float64
	count   int
	batches [][]Example
}

func newMeanNode(name string, learner *OnlineLearner) *meanNode {
	n := &meanNode{BaseNode: inference.NewBaseNode(name)}
	if learner != nil {
		n.SetLearner(learner)
	}
	return n
}

func (n *meanNode) Kind() inference.Kind { return inference.KindAtomic }

func (n *meanNode) Compute(_ context.Context, _, _ inference.Value) (inference.Value, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.count == 0 {
		return 0.0, nil
	}
	return n.sum / float64(n.count), nil
}

func (n *meanNode) Update(_ context.Context, examples []Example) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ex := range examples {
		n.sum += ex.Supervision.(float64)
		n.count++
	}
	n.batches = append(n.batches, examples)
	return nil
}

func (n *meanNode) Loss(ex Example) float64 {
	d := ex.Output.(float64) - ex.Supervision.(float64)
	return d * d
}

func (n *meanNode) batchSizes() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	sizes := make([]int, len(n.batches))
	for i, b := range n.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// plainNode is an atomic node without learnable state.
type plainNode struct {
	inference.BaseNode
	fn func(inference.Value) inference.Value
}

func newPlain(name string, fn func(inference.Value) inference.Value) *plainNode {
	return &plainNode{BaseNode: inference.NewBaseNode(name), fn: fn}
}

func (n *plainNode) Kind() inference.Kind { return inference.KindAtomic }

func (n *plainNode) Compute(_ context.Context, in, _ inference.Value) (inference.Value, error) {
	return n.fn(in), nil
}

func examplesOf(sups ...float64) []Example {
	out := make([]Example, len(sups))
	for i, s := range sups {
		out[i] = Example{Input: float64(i), Supervision: s}
	}
	return out
}

func learningContext(opts ...inference.Option) (*inference.Context, *LearningCallback) {
	cb := NewLearningCallback()
	return inference.NewContext(append(opts, inference.WithCallbacks(cb))...), cb
}
