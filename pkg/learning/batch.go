package learning

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// BatchLearner fits a node once from a complete training set.
type BatchLearner interface {
	Fit(ctx context.Context, node inference.Node, examples []Example) error
}

// BatchLearnerFunc adapts a function to BatchLearner.
type BatchLearnerFunc func(ctx context.Context, node inference.Node, examples []Example) error

// Fit calls f.
func (f BatchLearnerFunc) Fit(ctx context.Context, node inference.Node, examples []Example) error {
	return f(ctx, node, examples)
}

// UpdateOnce fits a Trainable node with a single Update over all examples.
var UpdateOnce BatchLearner = BatchLearnerFunc(func(ctx context.Context, node inference.Node, examples []Example) error {
	if len(examples) == 0 {
		return ErrEmptyTrainingSet
	}
	trainable, ok := node.(Trainable)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTrainable, node.Name())
	}
	return trainable.Update(ctx, examples)
})

// ExampleCollector gathers the examples a target node sees while a pipeline
// runs. Only runs that finished with a supervision are kept.
type ExampleCollector struct {
	target inference.Node

	mu       sync.Mutex
	examples []Example
}

// NewExampleCollector creates a collector for target.
func NewExampleCollector(target inference.Node) *ExampleCollector {
	return &ExampleCollector{target: target}
}

// PreInference does nothing.
func (c *ExampleCollector) PreInference(context.Context, *inference.Stack, inference.Event) inference.Override {
	return inference.Keep()
}

// PostInference records the example seen by the target.
func (c *ExampleCollector) PostInference(_ context.Context, _ *inference.Stack, ev inference.Event) inference.Override {
	if !inference.Same(ev.Node, c.target) || ev.Code != inference.Finished || inference.IsMissing(ev.Supervision) {
		return inference.Keep()
	}
	c.mu.Lock()
	c.examples = append(c.examples, Example{Input: ev.Input, Supervision: ev.Supervision, Output: ev.Output})
	c.mu.Unlock()
	return inference.Keep()
}

// Examples returns the collected examples in collection order.
func (c *ExampleCollector) Examples() []Example {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Example(nil), c.examples...)
}

// fitNode runs a batch learner as an atomic node so that callbacks observe
// the fit like any other computation. Its input is the training set.
type fitNode struct {
	inference.BaseNode
	target  inference.Node
	learner BatchLearner
}

func (n *fitNode) Kind() inference.Kind { return inference.KindAtomic }

func (n *fitNode) Compute(ctx context.Context, input, _ inference.Value) (inference.Value, error) {
	examples, _ := input.([]Example)
	if len(examples) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if err := n.learner.Fit(ctx, n.target, examples); err != nil {
		return nil, err
	}
	return n.target, nil
}

// Train fits target with learner in two passes. The first pass runs root on
// every example and collects what target sees; target may be root itself
// or any node below it. The second pass runs the fit through ec.
//
// A learner that cannot fit, including on an empty training set, yields an
// Error result.
func Train(ctx context.Context, ec *inference.Context, root, target inference.Node, examples []Example, learner BatchLearner) inference.Result {
	if len(examples) == 0 {
		return inference.Fail(ErrEmptyTrainingSet)
	}

	collector := NewExampleCollector(target)
	collecting := inference.NewCallbackDecorator(root.Name()+".collect", root, collector)
	for _, ex := range examples {
		if res := ec.Run(ctx, collecting, ex.Input, ex.Supervision); !res.OK() {
			return res
		}
	}

	fit := &fitNode{
		BaseNode: inference.NewBaseNode(target.Name() + ".fit"),
		target:   target,
		learner:  learner,
	}
	collected := collector.Examples()
	ec.Logger().Debug("fitting batch learner",
		zap.String("target", target.Name()),
		zap.Int("examples", len(collected)))
	return ec.Run(ctx, fit, collected, nil)
}
