package nodes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// ErrScript wraps compile and runtime failures of a Script node.
var ErrScript = errors.New("script failed")

// restrictedGlobals are removed from every runtime before a script runs.
var restrictedGlobals = []string{"require", "module", "exports", "process", "global", "Buffer"}

// Script is an atomic node evaluating a JavaScript program. The program sees
// the globals input and supervision, and its completion value is the output.
// Integers come back as int64 and other numbers as float64.
//
// Runtimes are pooled and cleared of the globals a run leaves behind, so
// a run never sees state from an earlier one. A Script may be run
// concurrently.
type Script struct {
	inference.BaseNode
	program *goja.Program
	timeout time.Duration
	pool    sync.Pool
}

// ScriptOption configures a Script node.
type ScriptOption func(*Script)

// WithScriptTimeout bounds one evaluation. Zero relies on the run context alone.
func WithScriptTimeout(d time.Duration) ScriptOption {
	return func(s *Script) {
		s.timeout = d
	}
}

// NewScript compiles source into an atomic node.
func NewScript(name, source string, opts ...ScriptOption) (*Script, error) {
	program, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %v", ErrScript, name, err)
	}
	s := &Script{BaseNode: inference.NewBaseNode(name), program: program}
	for _, opt := range opts {
		opt(s)
	}
	s.pool.New = func() any { return newRuntime() }
	return s, nil
}

// scriptRuntime is a pooled goja runtime and the global names it started
// with.
type scriptRuntime struct {
	vm       *goja.Runtime
	baseline map[string]struct{}
}

func newRuntime() *scriptRuntime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	for _, name := range restrictedGlobals {
		_ = vm.Set(name, goja.Undefined())
	}
	rt := &scriptRuntime{vm: vm, baseline: make(map[string]struct{})}
	for _, name := range vm.GlobalObject().GetOwnPropertyNames() {
		rt.baseline[name] = struct{}{}
	}
	return rt
}

// reset deletes the globals a run added and reports whether the runtime is
// back to its initial set of globals. Top-level var and function
// declarations cannot be deleted, so a runtime that saw one is not reused.
func (rt *scriptRuntime) reset() bool {
	global := rt.vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if _, ok := rt.baseline[name]; !ok {
			_ = global.Delete(name)
		}
	}
	for _, name := range restrictedGlobals {
		if err := rt.vm.Set(name, goja.Undefined()); err != nil {
			return false
		}
	}

	names := global.GetOwnPropertyNames()
	if len(names) != len(rt.baseline) {
		return false
	}
	for _, name := range names {
		if _, ok := rt.baseline[name]; !ok {
			return false
		}
	}
	return true
}

func (s *Script) Kind() inference.Kind {
	return inference.KindAtomic
}

func (s *Script) Compute(ctx context.Context, input, supervision inference.Value) (out inference.Value, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rt := s.pool.Get().(*scriptRuntime)
	vm := rt.vm
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-stopped
		vm.ClearInterrupt()
		if rt.reset() {
			s.pool.Put(rt)
		}
	}()

	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("%w: set input: %v", ErrScript, err)
	}
	if err := vm.Set("supervision", supervision); err != nil {
		return nil, fmt.Errorf("%w: set supervision: %v", ErrScript, err)
	}

	value, err := vm.RunProgram(s.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && s.timeout > 0 {
				return nil, fmt.Errorf("%w: %s exceeded %s", ErrScript, s.Name(), s.timeout)
			}
			return nil, fmt.Errorf("%w: %v", inference.ErrCanceled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrScript, s.Name(), err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

var _ inference.Atomic = (*Script)(nil)
