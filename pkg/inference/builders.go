package inference

import (
	"context"
	"fmt"
)

// DecoratorBase gives decorators their kind and the identity Finalize:
// the child output when the child ran, the input otherwise.
type DecoratorBase struct {
	BaseNode
}

// Kind returns KindDecorator.
func (d *DecoratorBase) Kind() Kind {
	return KindDecorator
}

// Finalize passes the child output through.
func (d *DecoratorBase) Finalize(_ context.Context, state *DecoratorState) (Value, error) {
	if state.ChildRan {
		return state.ChildOutput, nil
	}
	return state.Input, nil
}

// StaticDecorator wraps a fixed child and hands it the input and supervision
// unchanged.
type StaticDecorator struct {
	DecoratorBase
	child Node
}

// NewStaticDecorator creates an identity decorator around child.
func NewStaticDecorator(name string, child Node) *StaticDecorator {
	return &StaticDecorator{
		DecoratorBase: DecoratorBase{BaseNode: NewBaseNode(name)},
		child:         child,
	}
}

// Child returns the wrapped node.
func (d *StaticDecorator) Child() Node {
	return d.child
}

// Prepare selects the child with the node input and supervision.
func (d *StaticDecorator) Prepare(_ context.Context, state *DecoratorState) error {
	state.Child = d.child
	state.ChildInput = state.Input
	state.ChildSupervision = state.Supervision
	return nil
}

// Children returns the wrapped node.
func (d *StaticDecorator) Children() []Node {
	if d.child == nil {
		return nil
	}
	return []Node{d.child}
}

// CallbackDecorator is an identity decorator that installs extra callbacks
// for the duration of its child run. Nodes outside the child never see them.
type CallbackDecorator struct {
	StaticDecorator
	callbacks []Callback
}

// NewCallbackDecorator creates a decorator scoping callbacks to child.
func NewCallbackDecorator(name string, child Node, callbacks ...Callback) *CallbackDecorator {
	return &CallbackDecorator{
		StaticDecorator: *NewStaticDecorator(name, child),
		callbacks:       callbacks,
	}
}

// ScopedCallbacks returns the callbacks installed around the child.
func (d *CallbackDecorator) ScopedCallbacks() []Callback {
	return d.callbacks
}

// Sequence is a sequential node over a fixed list of steps. Each step gets
// the output of the previous one and the node supervision.
type Sequence struct {
	BaseNode
	steps []Node
}

// NewSequence creates a sequence of steps.
func NewSequence(name string, steps ...Node) *Sequence {
	return &Sequence{BaseNode: NewBaseNode(name), steps: steps}
}

// Kind returns KindSequential.
func (s *Sequence) Kind() Kind {
	return KindSequential
}

// Append adds a step at the end.
func (s *Sequence) Append(step Node) *Sequence {
	s.steps = append(s.steps, step)
	return s
}

// Len returns the number of steps.
func (s *Sequence) Len() int {
	return len(s.steps)
}

// Children returns the steps in order.
func (s *Sequence) Children() []Node {
	return append([]Node(nil), s.steps...)
}

func (s *Sequence) InitialStep(_ context.Context, _ *SequentialState) (Node, error) {
	if len(s.steps) == 0 {
		return nil, nil
	}
	return s.steps[0], nil
}

func (s *Sequence) NextStep(_ context.Context, state *SequentialState) (Node, error) {
	if state.Step() >= len(s.steps) {
		return nil, nil
	}
	return s.steps[state.Step()], nil
}

// Finalize returns the output of the last step.
func (s *Sequence) Finalize(_ context.Context, state *SequentialState) (Value, error) {
	return state.Current, nil
}

// VectorParallel runs each child on the same input and collects the outputs
// into a []Value, slot i holding child i's output.
//
// Every child sees the whole supervision unless WithSubSupervision installs
// a split such as ElementSupervision.
type VectorParallel struct {
	BaseNode
	children       []Node
	subSupervision func(supervision Value, index int, partialOutput Value) Value
}

// NewVectorParallel creates a parallel node over children.
func NewVectorParallel(name string, children ...Node) *VectorParallel {
	return &VectorParallel{BaseNode: NewBaseNode(name), children: children}
}

// Kind returns KindParallel.
func (p *VectorParallel) Kind() Kind {
	return KindParallel
}

// Append adds a child.
func (p *VectorParallel) Append(child Node) *VectorParallel {
	p.children = append(p.children, child)
	return p
}

// WithSubSupervision sets how the supervision of child index is derived.
func (p *VectorParallel) WithSubSupervision(subSupervision func(supervision Value, index int, partialOutput Value) Value) *VectorParallel {
	p.subSupervision = subSupervision
	return p
}

// Children returns the children in slot order.
func (p *VectorParallel) Children() []Node {
	return append([]Node(nil), p.children...)
}

func (p *VectorParallel) NumSubInferences(Value) int {
	return len(p.children)
}

func (p *VectorParallel) SubInference(_ Value, index int) Node {
	return p.children[index]
}

func (p *VectorParallel) SubInput(input Value, _ int) Value {
	return input
}

func (p *VectorParallel) SubSupervision(supervision Value, index int, partialOutput Value) Value {
	if p.subSupervision != nil {
		return p.subSupervision(supervision, index, partialOutput)
	}
	return supervision
}

func (p *VectorParallel) CreateEmptyOutput(Value) Value {
	return make([]Value, len(p.children))
}

func (p *VectorParallel) SetSubOutput(output Value, index int, subOutput Value) (Value, error) {
	return setSlot(output, index, subOutput)
}

// SharedOption customizes a Shared node.
type SharedOption func(*Shared)

// WithCount overrides the number of elements derived from the input.
func WithCount(count func(input Value) int) SharedOption {
	return func(s *Shared) {
		s.count = count
	}
}

// WithSubInput overrides how element inputs are extracted.
func WithSubInput(subInput func(input Value, index int) Value) SharedOption {
	return func(s *Shared) {
		s.subInput = subInput
	}
}

// WithSubSupervision overrides how element supervisions are extracted.
func WithSubSupervision(subSupervision func(supervision Value, index int, partialOutput Value) Value) SharedOption {
	return func(s *Shared) {
		s.subSupervision = subSupervision
	}
}

// Shared applies one shared child to every element of a slice or array
// input and collects the outputs into a []Value.
//
// By default element i is supervised by element i of a slice supervision,
// a missing supervision leaves elements unsupervised and any other value is
// handed to every element.
type Shared struct {
	BaseNode
	shared         Node
	count          func(input Value) int
	subInput       func(input Value, index int) Value
	subSupervision func(supervision Value, index int, partialOutput Value) Value
}

// NewSharedParallel creates a shared-parallel node around shared.
func NewSharedParallel(name string, shared Node, opts ...SharedOption) *Shared {
	s := &Shared{
		BaseNode:       NewBaseNode(name),
		shared:         shared,
		count:          defaultCount,
		subInput:       elementAt,
		subSupervision: ElementSupervision,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns KindSharedParallel.
func (s *Shared) Kind() Kind {
	return KindSharedParallel
}

// SharedInference returns the child applied to every element.
func (s *Shared) SharedInference() Node {
	return s.shared
}

// Children returns the shared child.
func (s *Shared) Children() []Node {
	return []Node{s.shared}
}

func (s *Shared) NumSubInferences(input Value) int {
	return s.count(input)
}

func (s *Shared) SubInference(Value, int) Node {
	return s.shared
}

func (s *Shared) SubInput(input Value, index int) Value {
	return s.subInput(input, index)
}

func (s *Shared) SubSupervision(supervision Value, index int, partialOutput Value) Value {
	return s.subSupervision(supervision, index, partialOutput)
}

func (s *Shared) CreateEmptyOutput(input Value) Value {
	return make([]Value, max(s.count(input), 0))
}

func (s *Shared) SetSubOutput(output Value, index int, subOutput Value) (Value, error) {
	return setSlot(output, index, subOutput)
}

func defaultCount(input Value) int {
	return max(lengthOf(input), 0)
}

// ElementSupervision supervises index i with element i of a slice or array
// supervision. A missing supervision stays missing and any other value is
// handed to every index.
func ElementSupervision(supervision Value, index int, _ Value) Value {
	if IsMissing(supervision) {
		return nil
	}
	if lengthOf(supervision) >= 0 {
		return elementAt(supervision, index)
	}
	return supervision
}

func setSlot(output Value, index int, subOutput Value) (Value, error) {
	slots, ok := output.([]Value)
	if !ok {
		return output, fmt.Errorf("%w: output is %T, want []Value", ErrInvalidInput, output)
	}
	if index < 0 || index >= len(slots) {
		return output, fmt.Errorf("%w: slot %d out of range [0,%d)", ErrInvalidInput, index, len(slots))
	}
	slots[index] = subOutput
	return slots, nil
}

var (
	_ Decorator      = (*StaticDecorator)(nil)
	_ CallbackScope  = (*CallbackDecorator)(nil)
	_ Sequential     = (*Sequence)(nil)
	_ Parallel       = (*VectorParallel)(nil)
	_ SharedParallel = (*Shared)(nil)
)
