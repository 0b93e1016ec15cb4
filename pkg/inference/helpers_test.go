package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errBoom = errors.New("boom")

// funcNode is an atomic node backed by a function that counts its calls.
type funcNode struct {
	BaseNode
	fn    func(ctx context.Context, input, supervision Value) (Value, error)
	calls atomic.Int32
}

func newFunc(name string, fn func(ctx context.Context, input, supervision Value) (Value, error)) *funcNode {
	return &funcNode{BaseNode: NewBaseNode(name), fn: fn}
}

func (n *funcNode) Kind() Kind { return KindAtomic }

func (n *funcNode) Compute(ctx context.Context, input, supervision Value) (Value, error) {
	n.calls.Add(1)
	return n.fn(ctx, input, supervision)
}

func constant(name string, v Value) *funcNode {
	return newFunc(name, func(context.Context, Value, Value) (Value, error) { return v, nil })
}

func failing(name string, err error) *funcNode {
	return newFunc(name, func(context.Context, Value, Value) (Value, error) { return nil, err })
}

func double(name string) *funcNode {
	return newFunc(name, func(_ context.Context, in, _ Value) (Value, error) { return in.(int) * 2, nil })
}

func addOne(name string) *funcNode {
	return newFunc(name, func(_ context.Context, in, _ Value) (Value, error) { return in.(int) + 1, nil })
}

// eventLog records callback invocations as "pre:name" and "post:name:code".
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *eventLog) callback(tag string) *CallbackFuncs {
	return &CallbackFuncs{
		Pre: func(_ context.Context, _ *Stack, ev Event) Override {
			l.add(tag + "pre:" + ev.Node.Name())
			return Keep()
		},
		Post: func(_ context.Context, _ *Stack, ev Event) Override {
			l.add(tag + "post:" + ev.Node.Name() + ":" + ev.Code.String())
			return Keep()
		},
	}
}
