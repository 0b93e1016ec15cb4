package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled marks a deliberate early stop.
	ErrCanceled = errors.New("inference: canceled")

	// ErrFailed is reported when a run ended with Error but no cause was recorded,
	// typically because a callback forced the code.
	ErrFailed = errors.New("inference: failed")

	// ErrNilNode is returned when a nil node is run or produced by a composite.
	ErrNilNode = errors.New("inference: nil node")

	// ErrKindMismatch is returned when a node does not implement the contract of its declared kind.
	ErrKindMismatch = errors.New("inference: node does not implement its declared kind")

	// ErrUnknownKind is returned for a kind outside the closed set.
	ErrUnknownKind = errors.New("inference: unknown node kind")

	// ErrPanic wraps a panic recovered from node code.
	ErrPanic = errors.New("inference: panic in node")

	// ErrInvalidInput is returned when a builder-provided node receives an input it cannot handle.
	ErrInvalidInput = errors.New("inference: invalid input")
)

// NodeError records where in the tree a failure originated.
type NodeError struct {
	// Node is the name of the failing node.
	Node string
	// Path is the stack path at the time of failure, root first.
	Path string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface
func (e *NodeError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *NodeError) Unwrap() error {
	return e.Err
}

// newNodeError wraps err with the node path unless it already carries one.
func newNodeError(node Node, stack *Stack, err error) error {
	var ne *NodeError
	if errors.As(err, &ne) {
		return err
	}
	path := node.Name()
	if stack != nil {
		path = stack.Path()
	}
	return &NodeError{Node: node.Name(), Path: path, Err: err}
}
