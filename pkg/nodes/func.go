// Package nodes provides ready-made inference nodes: function leaves,
// JavaScript leaves, a trainable linear regressor and an output mapping
// decorator.
package nodes

import (
	"context"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// ComputeFunc is the signature of a Func node body.
type ComputeFunc func(ctx context.Context, input, supervision inference.Value) (inference.Value, error)

// Func is an atomic node backed by a Go function.
type Func struct {
	inference.BaseNode
	fn ComputeFunc
}

// NewFunc creates an atomic node calling fn.
func NewFunc(name string, fn ComputeFunc) *Func {
	return &Func{BaseNode: inference.NewBaseNode(name), fn: fn}
}

// Map creates an atomic node applying fn to its input and ignoring supervision.
func Map(name string, fn func(inference.Value) (inference.Value, error)) *Func {
	return NewFunc(name, func(_ context.Context, input, _ inference.Value) (inference.Value, error) {
		return fn(input)
	})
}

// Identity creates an atomic node returning its input.
func Identity(name string) *Func {
	return Map(name, func(v inference.Value) (inference.Value, error) { return v, nil })
}

// Constant creates an atomic node always returning v.
func Constant(name string, v inference.Value) *Func {
	return Map(name, func(inference.Value) (inference.Value, error) { return v, nil })
}

func (n *Func) Kind() inference.Kind {
	return inference.KindAtomic
}

func (n *Func) Compute(ctx context.Context, input, supervision inference.Value) (inference.Value, error) {
	return n.fn(ctx, input, supervision)
}

var _ inference.Atomic = (*Func)(nil)
