package nodes

import (
	"context"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// TransferFunc maps a child output to the decorator output. input is the
// decorator input.
type TransferFunc func(input, output inference.Value) (inference.Value, error)

// Transfer is a decorator that runs its child unchanged and maps the child
// output through a transfer function, such as a sigmoid over a score or a
// threshold turning a score into a label.
type Transfer struct {
	inference.StaticDecorator
	fn TransferFunc
}

// NewTransfer wraps child with fn.
func NewTransfer(name string, child inference.Node, fn TransferFunc) *Transfer {
	return &Transfer{StaticDecorator: *inference.NewStaticDecorator(name, child), fn: fn}
}

func (t *Transfer) Finalize(_ context.Context, state *inference.DecoratorState) (inference.Value, error) {
	if !state.ChildRan {
		return state.Input, nil
	}
	return t.fn(state.Input, state.ChildOutput)
}

// Threshold returns a transfer function mapping numeric outputs to
// output >= threshold.
func Threshold(threshold float64) TransferFunc {
	return func(_, output inference.Value) (inference.Value, error) {
		f, ok := number(output)
		if !ok {
			return nil, invalidOutput(output)
		}
		return f >= threshold, nil
	}
}

// Sigmoid maps numeric outputs through the logistic function.
func Sigmoid() TransferFunc {
	return func(_, output inference.Value) (inference.Value, error) {
		f, ok := number(output)
		if !ok {
			return nil, invalidOutput(output)
		}
		return sigmoid(f), nil
	}
}

var _ inference.Decorator = (*Transfer)(nil)
