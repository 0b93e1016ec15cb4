package inference

// SequentialState is the per-run state of a Sequential node.
type SequentialState struct {
	Input       Value
	Supervision Value

	// Current is the intermediate value: the input before the first step,
	// then the output of the last completed step.
	Current Value

	// SubNode is the step being executed. The chain is final when it is nil.
	SubNode Node

	step int
}

// Step returns the number of completed steps, which is also the index of the
// step about to run. It only increases.
func (s *SequentialState) Step() int {
	return s.step
}

// IsFinal reports whether no step remains.
func (s *SequentialState) IsFinal() bool {
	return s.SubNode == nil
}

// Slot holds one sub-inference of a Parallel run.
type Slot struct {
	Node        Node
	Input       Value
	Supervision Value

	// Output is only set once Done is true.
	Output Value
	Done   bool
}

// ParallelState is the per-run state of a Parallel node.
type ParallelState struct {
	Input       Value
	Supervision Value
	Slots       []Slot
}

// Completed returns the number of slots whose sub-run finished.
func (s *ParallelState) Completed() int {
	n := 0
	for i := range s.Slots {
		if s.Slots[i].Done {
			n++
		}
	}
	return n
}

// DecoratorState is the per-run state of a Decorator node.
type DecoratorState struct {
	Input       Value
	Supervision Value

	Child            Node
	ChildInput       Value
	ChildSupervision Value

	// ChildOutput is set once the child finished; ChildRan tells whether it ran.
	ChildOutput Value
	ChildRan    bool
}
