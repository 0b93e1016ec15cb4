package inference

import (
	"context"
	"fmt"
)

// Kind is the structural kind of a node. It is fixed for the node's lifetime.
type Kind int

const (
	KindAtomic Kind = iota
	KindDecorator
	KindSequential
	KindParallel
	KindSharedParallel
)

// String returns the kind name used in logs and pipeline definitions.
func (k Kind) String() string {
	switch k {
	case KindAtomic:
		return "atomic"
	case KindDecorator:
		return "decorator"
	case KindSequential:
		return "sequential"
	case KindParallel:
		return "parallel"
	case KindSharedParallel:
		return "shared_parallel"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is the common identity of every inference node.
// Concrete nodes must also implement the contract of the kind they report.
type Node interface {
	// Name identifies the node in stacks, logs and persisted state.
	Name() string

	// Kind selects the contract the Context dispatches to.
	Kind() Kind
}

// Atomic is an opaque leaf computation.
type Atomic interface {
	Node

	// Compute produces the output from the input. Supervision is only
	// consulted by nodes that learn. Returning an error that matches
	// ErrCanceled yields Canceled, any other error yields Error.
	Compute(ctx context.Context, input, supervision Value) (Value, error)
}

// Decorator wraps exactly one child and adapts input and output around it.
type Decorator interface {
	Node

	// Prepare fills Child, ChildInput and ChildSupervision. Leaving Child nil
	// skips the child and goes straight to Finalize.
	Prepare(ctx context.Context, state *DecoratorState) error

	// Finalize turns the child output into the node output.
	Finalize(ctx context.Context, state *DecoratorState) (Value, error)
}

// Sequential is an ordered chain of steps where each step sees the output of
// the previous one.
type Sequential interface {
	Node

	// InitialStep returns the first step, or nil for a chain that outputs its input unchanged.
	InitialStep(ctx context.Context, state *SequentialState) (Node, error)

	// NextStep is called after each step completed. It may rewrite
	// state.Current and returns the next step, or nil when the chain is done.
	NextStep(ctx context.Context, state *SequentialState) (Node, error)

	// Finalize turns the final state into the node output.
	Finalize(ctx context.Context, state *SequentialState) (Value, error)
}

// StepSupervisor is implemented by sequential nodes that hand a different
// supervision to each step. Without it every step sees the node supervision.
type StepSupervisor interface {
	StepSupervision(supervision Value, index int) Value
}

// Parallel fans its input out to independent sub-inferences and merges their
// outputs itself.
type Parallel interface {
	Node

	NumSubInferences(input Value) int
	SubInference(input Value, index int) Node
	SubInput(input Value, index int) Value

	// SubSupervision derives the supervision of slot index. partialOutput is
	// the merged output built so far.
	SubSupervision(supervision Value, index int, partialOutput Value) Value

	CreateEmptyOutput(input Value) Value

	// SetSubOutput merges subOutput into output at index and returns the
	// updated output.
	SetSubOutput(output Value, index int, subOutput Value) (Value, error)
}

// SharedParallel is a Parallel that applies one shared child to every element.
// Its Kind is KindSharedParallel.
type SharedParallel interface {
	Parallel

	SharedInference() Node
}

// Composite exposes the static children of a node for tree walking.
type Composite interface {
	Children() []Node
}

// Learnable is implemented by nodes that carry an attached learner.
// The learner is opaque to the engine.
type Learnable interface {
	Learner() any
}

// CallbackScope is implemented by decorators that install extra callbacks for
// the duration of their child run.
type CallbackScope interface {
	ScopedCallbacks() []Callback
}

// BaseNode provides the name and learner attachment shared by all nodes.
// Embed it in custom node implementations.
type BaseNode struct {
	name    string
	learner any
}

// NewBaseNode creates a base node with the given name.
func NewBaseNode(name string) BaseNode {
	return BaseNode{name: name}
}

// Name returns the node name.
func (n *BaseNode) Name() string {
	return n.name
}

// Learner returns the attached learner, or nil.
func (n *BaseNode) Learner() any {
	return n.learner
}

// SetLearner attaches a learner to the node.
func (n *BaseNode) SetLearner(learner any) {
	n.learner = learner
}
