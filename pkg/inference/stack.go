package inference

import (
	"context"
	"strings"
	"sync/atomic"
)

var frameSeq atomic.Uint64

// Frame is one entry of the Stack. ID is unique per node visit, so callbacks
// can pair their pre and post work even when the same node is re-entered.
type Frame struct {
	Node Node
	ID   uint64
}

// Stack is the live path of nodes currently running, root first.
// A Stack belongs to a single goroutine; concurrent children get a Fork.
type Stack struct {
	frames []Frame
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push enters node and returns its frame.
func (s *Stack) Push(node Node) Frame {
	f := Frame{Node: node, ID: frameSeq.Add(1)}
	s.frames = append(s.frames, f)
	return f
}

// Pop leaves the current node and returns it, or nil on an empty stack.
func (s *Stack) Pop() Node {
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f.Node
}

// Depth returns the number of nodes on the stack.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// At returns the node at depth index i (0 is the root), or nil.
func (s *Stack) At(i int) Node {
	if i < 0 || i >= len(s.frames) {
		return nil
	}
	return s.frames[i].Node
}

// FrameAt returns the frame at depth index i and whether it exists.
func (s *Stack) FrameAt(i int) (Frame, bool) {
	if i < 0 || i >= len(s.frames) {
		return Frame{}, false
	}
	return s.frames[i], true
}

// Current returns the running node.
func (s *Stack) Current() Node {
	return s.At(len(s.frames) - 1)
}

// Parent returns the node that started the running node.
func (s *Stack) Parent() Node {
	return s.At(len(s.frames) - 2)
}

// GrandParent returns the parent of Parent.
func (s *Stack) GrandParent() Node {
	return s.At(len(s.frames) - 3)
}

// CurrentFrame returns the frame of the running node.
func (s *Stack) CurrentFrame() (Frame, bool) {
	return s.FrameAt(len(s.frames) - 1)
}

// ParentFrame returns the frame of the parent node.
func (s *Stack) ParentFrame() (Frame, bool) {
	return s.FrameAt(len(s.frames) - 2)
}

// Nodes returns a copy of the path, root first.
func (s *Stack) Nodes() []Node {
	out := make([]Node, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Node
	}
	return out
}

// Path returns the node names joined by "/", root first.
func (s *Stack) Path() string {
	names := make([]string, len(s.frames))
	for i, f := range s.frames {
		names[i] = f.Node.Name()
	}
	return strings.Join(names, "/")
}

// Count returns how many times node is on the stack.
func (s *Stack) Count(node Node) int {
	n := 0
	for _, f := range s.frames {
		if Same(f.Node, node) {
			n++
		}
	}
	return n
}

// Contains reports whether node is on the stack.
func (s *Stack) Contains(node Node) bool {
	return s.Count(node) > 0
}

// IsReentrant reports whether node has been entered more than once.
func (s *Stack) IsReentrant(node Node) bool {
	return s.Count(node) > 1
}

// Fork returns an independent copy sharing the current frames.
func (s *Stack) Fork() *Stack {
	frames := make([]Frame, len(s.frames), len(s.frames)+4)
	copy(frames, s.frames)
	return &Stack{frames: frames}
}

type stackKey struct{}

// StackFrom returns the stack of the run ctx belongs to, or nil outside a run.
func StackFrom(ctx context.Context) *Stack {
	s, _ := ctx.Value(stackKey{}).(*Stack)
	return s
}

func withStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}
