package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/francis-maes/lbcpp-sub006/pkg/concurrency"
)

// Context walks node trees, dispatches by kind and invokes the callback
// chain around every node visit.
//
// A Context may serve concurrent top-level runs. Its callback list must only
// be changed while no run is in flight.
type Context struct {
	config    Config
	logger    *zap.Logger
	callbacks []Callback
	limiter   *concurrency.Limiter
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConfig sets the execution configuration.
func WithConfig(cfg Config) Option {
	return func(c *Context) {
		c.config = cfg
	}
}

// WithCallbacks registers callbacks in order.
func WithCallbacks(callbacks ...Callback) Option {
	return func(c *Context) {
		for _, cb := range callbacks {
			c.AppendCallback(cb)
		}
	}
}

// NewContext creates an execution context.
func NewContext(opts ...Option) *Context {
	c := &Context{
		config: DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.config.Validate(); err != nil {
		c.logger.Warn("invalid inference config, using defaults", zap.Error(err))
		c.config = DefaultConfig()
	}
	c.limiter = concurrency.NewLimiter(c.config.MaxConcurrent)
	return c
}

// Config returns the execution configuration.
func (c *Context) Config() Config {
	return c.config
}

// Logger returns the context logger.
func (c *Context) Logger() *zap.Logger {
	return c.logger
}

// Limiter returns the limiter bounding concurrent slot goroutines.
func (c *Context) Limiter() *concurrency.Limiter {
	return c.limiter
}

// AppendCallback adds cb at the end of the chain. Nil is ignored.
func (c *Context) AppendCallback(cb Callback) {
	if cb == nil {
		return
	}
	c.callbacks = append(c.callbacks, cb)
}

// RemoveCallback removes the first registration of cb and reports whether
// one was found.
func (c *Context) RemoveCallback(cb Callback) bool {
	for i, registered := range c.callbacks {
		if Same(registered, cb) {
			c.callbacks = append(c.callbacks[:i:i], c.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// ClearCallbacks removes every registered callback.
func (c *Context) ClearCallbacks() {
	c.callbacks = nil
}

// Callbacks returns a copy of the registered callbacks in order.
func (c *Context) Callbacks() []Callback {
	return append([]Callback(nil), c.callbacks...)
}

// Run executes node on input and supervision.
//
// The node is pushed on the stack carried by ctx (a fresh one for top-level
// runs), pre-callbacks run in registration order, the node computes unless a
// pre-callback supplied an output or a non-Finished code, post-callbacks run
// in reverse order, and the node is popped on every exit path.
func (c *Context) Run(ctx context.Context, node Node, input, supervision Value) Result {
	if node == nil {
		return Fail(ErrNilNode)
	}
	if RunIDFrom(ctx) == "" {
		ctx = WithRunID(ctx, uuid.NewString())
	}
	stack := StackFrom(ctx)
	if stack == nil {
		stack = NewStack()
		ctx = withStack(ctx, stack)
	}

	stack.Push(node)
	defer stack.Pop()

	var start time.Time
	if c.config.LogSteps {
		start = time.Now()
	}

	chain := c.chain(ctx)
	ev := Event{Node: node, Input: input, Supervision: supervision, Code: Finished}
	for _, cb := range chain {
		c.pre(ctx, stack, cb, &ev)
	}

	if ev.Code == Error {
		c.logger.Warn("pre-inference failed",
			zap.String("run_id", RunIDFrom(ctx)),
			zap.String("path", stack.Path()),
			zap.Error(ev.Err))
	}

	if !ev.HasOutput && ev.Code == Finished {
		res := c.dispatch(ctx, stack, node, ev.Input, ev.Supervision)
		ev.Output = res.Output
		ev.HasOutput = res.Code != Error
		ev.Code = res.Code
		ev.Err = res.Err
	}
	c.annotate(node, stack, &ev)

	for i := len(chain) - 1; i >= 0; i-- {
		c.post(ctx, stack, chain[i], &ev)
	}
	c.annotate(node, stack, &ev)

	if c.config.LogSteps {
		c.logger.Debug("inference finished",
			zap.String("run_id", RunIDFrom(ctx)),
			zap.String("path", stack.Path()),
			zap.Stringer("kind", node.Kind()),
			zap.Stringer("code", ev.Code),
			zap.Duration("elapsed", time.Since(start)))
	}

	return ev.Result()
}

// chain returns the registered callbacks followed by the ones scoped to ctx.
func (c *Context) chain(ctx context.Context) []Callback {
	scoped := scopedCallbacks(ctx)
	if len(scoped) == 0 {
		return c.callbacks
	}
	chain := make([]Callback, 0, len(c.callbacks)+len(scoped))
	chain = append(chain, c.callbacks...)
	return append(chain, scoped...)
}

func (c *Context) pre(ctx context.Context, stack *Stack, cb Callback, ev *Event) {
	defer c.recoverCallback(stack, ev)
	cb.PreInference(ctx, stack, *ev).applyPre(ev)
}

func (c *Context) post(ctx context.Context, stack *Stack, cb Callback, ev *Event) {
	defer c.recoverCallback(stack, ev)
	cb.PostInference(ctx, stack, *ev).applyPost(ev)
}

func (c *Context) recoverCallback(stack *Stack, ev *Event) {
	if r := recover(); r != nil {
		c.logger.Error("panic in callback", zap.String("path", stack.Path()), zap.Any("panic", r))
		ev.Code = Error
		ev.Err = fmt.Errorf("%w: callback: %v", ErrPanic, r)
	}
}

// annotate attaches the failing path to Error results.
func (c *Context) annotate(node Node, stack *Stack, ev *Event) {
	if ev.Code != Error {
		return
	}
	ev.Err = newNodeError(node, stack, orDefault(ev.Err, ErrFailed))
}

func (c *Context) dispatch(ctx context.Context, stack *Stack, node Node, input, supervision Value) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in node",
				zap.String("path", stack.Path()),
				zap.Any("panic", r),
				zap.Stack("stacktrace"))
			res = Fail(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return Cancel(err)
	}

	switch node.Kind() {
	case KindAtomic:
		if n, ok := node.(Atomic); ok {
			return c.runAtomic(ctx, n, input, supervision)
		}
	case KindDecorator:
		if n, ok := node.(Decorator); ok {
			return c.runDecorator(ctx, n, input, supervision)
		}
	case KindSequential:
		if n, ok := node.(Sequential); ok {
			return c.runSequential(ctx, n, input, supervision)
		}
	case KindParallel:
		if n, ok := node.(Parallel); ok {
			return c.runParallel(ctx, stack, n, input, supervision)
		}
	case KindSharedParallel:
		if n, ok := node.(SharedParallel); ok {
			return c.runParallel(ctx, stack, n, input, supervision)
		}
	default:
		return Fail(fmt.Errorf("%w: %s", ErrUnknownKind, node.Kind()))
	}
	return Fail(fmt.Errorf("%w: %q declares %s", ErrKindMismatch, node.Name(), node.Kind()))
}

func (c *Context) runAtomic(ctx context.Context, n Atomic, input, supervision Value) Result {
	out, err := n.Compute(ctx, input, supervision)
	if err != nil {
		return failure(err, out)
	}
	return Finish(out)
}

func (c *Context) runDecorator(ctx context.Context, n Decorator, input, supervision Value) Result {
	state := &DecoratorState{Input: input, Supervision: supervision}
	if err := n.Prepare(ctx, state); err != nil {
		return failure(err, nil)
	}

	if state.Child != nil {
		childCtx := ctx
		if scope, ok := n.(CallbackScope); ok {
			childCtx = withScopedCallbacks(ctx, scope.ScopedCallbacks()...)
		}
		res := c.Run(childCtx, state.Child, state.ChildInput, state.ChildSupervision)
		if !res.OK() {
			return res
		}
		state.ChildOutput = res.Output
		state.ChildRan = true
	}

	out, err := n.Finalize(ctx, state)
	if err != nil {
		return failure(err, nil)
	}
	return Finish(out)
}

func (c *Context) runSequential(ctx context.Context, n Sequential, input, supervision Value) Result {
	state := &SequentialState{Input: input, Supervision: supervision, Current: input}

	step, err := n.InitialStep(ctx, state)
	if err != nil {
		return failure(err, input)
	}
	if step == nil {
		return Finish(input)
	}
	state.SubNode = step

	supervisor, _ := n.(StepSupervisor)
	for state.SubNode != nil {
		if err := ctx.Err(); err != nil {
			return Result{Output: state.Current, Code: Canceled, Err: err}
		}

		stepSupervision := supervision
		if supervisor != nil {
			stepSupervision = supervisor.StepSupervision(supervision, state.step)
		}

		res := c.Run(ctx, state.SubNode, state.Current, stepSupervision)
		switch res.Code {
		case Error:
			return res
		case Canceled:
			if !IsMissing(res.Output) {
				state.Current = res.Output
			}
			return Result{Output: state.Current, Code: Canceled, Err: res.Err}
		}

		state.Current = res.Output
		state.step++

		next, err := n.NextStep(ctx, state)
		if err != nil {
			return failure(err, state.Current)
		}
		state.SubNode = next
	}

	out, err := n.Finalize(ctx, state)
	if err != nil {
		return failure(err, state.Current)
	}
	return Finish(out)
}

func (c *Context) runParallel(ctx context.Context, stack *Stack, n Parallel, input, supervision Value) Result {
	num := n.NumSubInferences(input)
	output := n.CreateEmptyOutput(input)
	if num <= 0 {
		return Finish(output)
	}

	state := &ParallelState{Input: input, Supervision: supervision, Slots: make([]Slot, num)}
	for i := range state.Slots {
		slot := &state.Slots[i]
		slot.Node = n.SubInference(input, i)
		if slot.Node == nil {
			return Fail(fmt.Errorf("%w: slot %d of %q", ErrNilNode, i, n.Name()))
		}
		slot.Input = n.SubInput(input, i)
	}

	if c.config.ParallelMode == ParallelConcurrent && num > 1 {
		return c.runSlotsConcurrently(ctx, stack, n, state, output)
	}
	return c.runSlotsInOrder(ctx, n, state, output)
}

// runSlotsInOrder runs slots one by one and merges progressively, so each
// slot supervision sees the output merged so far.
func (c *Context) runSlotsInOrder(ctx context.Context, n Parallel, state *ParallelState, output Value) Result {
	for i := range state.Slots {
		if err := ctx.Err(); err != nil {
			return Result{Output: output, Code: Canceled, Err: err}
		}

		slot := &state.Slots[i]
		slot.Supervision = n.SubSupervision(state.Supervision, i, output)
		res := c.Run(ctx, slot.Node, slot.Input, slot.Supervision)
		switch res.Code {
		case Error:
			return res
		case Canceled:
			return Result{Output: output, Code: Canceled, Err: res.Err}
		}

		slot.Output = res.Output
		slot.Done = true

		var err error
		if output, err = n.SetSubOutput(output, i, res.Output); err != nil {
			return failure(err, output)
		}
	}
	return Finish(output)
}

// errSlotStopped cancels the remaining slots once one of them did not finish.
var errSlotStopped = errors.New("inference: parallel slot stopped")

// runSlotsConcurrently runs slots on goroutines bounded by the context
// limiter. A slot that cannot get a goroutine runs on the calling one, so
// nested parallel nodes never wait on their ancestors. Outputs are merged in
// index order once every started slot returned.
func (c *Context) runSlotsConcurrently(ctx context.Context, stack *Stack, n Parallel, state *ParallelState, output Value) Result {
	for i := range state.Slots {
		state.Slots[i].Supervision = n.SubSupervision(state.Supervision, i, output)
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]Result, len(state.Slots))
	started := make([]bool, len(state.Slots))

	runSlot := func(i int) error {
		if gctx.Err() != nil {
			return nil
		}
		started[i] = true
		slot := &state.Slots[i]
		res := c.Run(withStack(gctx, stack.Fork()), slot.Node, slot.Input, slot.Supervision)
		results[i] = res
		if !res.OK() {
			cancel()
			return errSlotStopped
		}
		return nil
	}

	var g errgroup.Group
	for i := range state.Slots {
		if gctx.Err() != nil {
			break
		}
		if c.limiter.TryAcquire() {
			g.Go(func() error {
				defer c.limiter.Release()
				return runSlot(i)
			})
			continue
		}
		if err := runSlot(i); err != nil {
			break
		}
	}
	_ = g.Wait()

	var canceled *Result
	for i := range results {
		if !started[i] {
			continue
		}
		switch results[i].Code {
		case Error:
			return results[i]
		case Canceled:
			if canceled == nil {
				canceled = &results[i]
			}
		}
	}

	for i := range state.Slots {
		if !started[i] || results[i].Code != Finished {
			continue
		}
		slot := &state.Slots[i]
		slot.Output = results[i].Output
		slot.Done = true

		var err error
		if output, err = n.SetSubOutput(output, i, slot.Output); err != nil {
			return failure(err, output)
		}
	}

	if canceled != nil {
		return Result{Output: output, Code: Canceled, Err: canceled.Err}
	}
	if state.Completed() < len(state.Slots) {
		return Result{Output: output, Code: Canceled, Err: ctx.Err()}
	}
	return Finish(output)
}

// failure maps an error returned by node code onto a result. Cancellation
// errors keep partial as output.
func failure(err error, partial Value) Result {
	if isCancellation(err) {
		return Result{Output: partial, Code: Canceled, Err: err}
	}
	return Fail(err)
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrCanceled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
