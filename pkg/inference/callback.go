package inference

import "context"

// Event is what callbacks observe around a node visit.
type Event struct {
	Node        Node
	Input       Value
	Supervision Value

	// Output is the node output once known. HasOutput distinguishes an
	// explicit nil output from no output at all.
	Output    Value
	HasOutput bool

	Code ReturnCode
	Err  error
}

// Result returns the outcome carried by the event.
func (e Event) Result() Result {
	return Result{Output: e.Output, Code: e.Code, Err: e.Err}
}

// Callback observes and may redirect every node visit of a Context.
//
// PreInference runs before the node computes, in registration order.
// PostInference runs after it, in reverse registration order, also when the
// node was skipped, canceled or failed.
type Callback interface {
	PreInference(ctx context.Context, stack *Stack, event Event) Override
	PostInference(ctx context.Context, stack *Stack, event Event) Override
}

type overrideField uint8

const (
	setInput overrideField = 1 << iota
	setSupervision
	setOutput
	setCode
)

// Override is the explicit answer of a callback. The zero value changes nothing.
//
// In PreInference, supplying an output or a non-Finished code skips the
// node's own computation. In PostInference, input and supervision
// overrides are ignored.
type Override struct {
	set         overrideField
	input       Value
	supervision Value
	output      Value
	code        ReturnCode
	err         error
}

// Keep returns an Override that changes nothing.
func Keep() Override {
	return Override{}
}

// SkipWith supplies output in place of the node computation.
func SkipWith(output Value) Override {
	return Override{}.WithOutput(output)
}

// ForceCancel forces the Canceled code.
func ForceCancel() Override {
	return Override{}.WithCode(Canceled)
}

// ForceError forces the Error code with err as cause.
func ForceError(err error) Override {
	return Override{}.WithError(err)
}

// WithInput replaces the node input.
func (o Override) WithInput(v Value) Override {
	o.set |= setInput
	o.input = v
	return o
}

// WithSupervision replaces the node supervision.
func (o Override) WithSupervision(v Value) Override {
	o.set |= setSupervision
	o.supervision = v
	return o
}

// WithOutput replaces the node output.
func (o Override) WithOutput(v Value) Override {
	o.set |= setOutput
	o.output = v
	return o
}

// WithCode replaces the return code.
func (o Override) WithCode(code ReturnCode) Override {
	o.set |= setCode
	o.code = code
	return o
}

// WithError forces Error with err as cause.
func (o Override) WithError(err error) Override {
	o.set |= setCode
	o.code = Error
	o.err = err
	return o
}

// IsZero reports whether the override changes nothing.
func (o Override) IsZero() bool {
	return o.set == 0
}

func (o Override) applyPre(ev *Event) {
	if o.set&setInput != 0 {
		ev.Input = o.input
	}
	if o.set&setSupervision != 0 {
		ev.Supervision = o.supervision
	}
	o.applyPost(ev)
}

func (o Override) applyPost(ev *Event) {
	if o.set&setOutput != 0 {
		ev.Output = o.output
		ev.HasOutput = true
	}
	if o.set&setCode != 0 {
		ev.Code = o.code
		if o.err != nil {
			ev.Err = o.err
		} else if o.code == Finished {
			ev.Err = nil
		}
	}
}

// CallbackFuncs adapts plain functions to the Callback interface.
// Nil functions are skipped. Register it by pointer so it can be removed.
type CallbackFuncs struct {
	Pre  func(ctx context.Context, stack *Stack, event Event) Override
	Post func(ctx context.Context, stack *Stack, event Event) Override
}

func (f *CallbackFuncs) PreInference(ctx context.Context, stack *Stack, event Event) Override {
	if f.Pre == nil {
		return Keep()
	}
	return f.Pre(ctx, stack, event)
}

func (f *CallbackFuncs) PostInference(ctx context.Context, stack *Stack, event Event) Override {
	if f.Post == nil {
		return Keep()
	}
	return f.Post(ctx, stack, event)
}

var _ Callback = (*CallbackFuncs)(nil)

type scopedCallbacksKey struct{}

func scopedCallbacks(ctx context.Context) []Callback {
	cbs, _ := ctx.Value(scopedCallbacksKey{}).([]Callback)
	return cbs
}

func withScopedCallbacks(ctx context.Context, cbs ...Callback) context.Context {
	if len(cbs) == 0 {
		return ctx
	}
	parent := scopedCallbacks(ctx)
	merged := make([]Callback, 0, len(parent)+len(cbs))
	merged = append(merged, parent...)
	merged = append(merged, cbs...)
	return context.WithValue(ctx, scopedCallbacksKey{}, merged)
}

type runIDKey struct{}

// RunIDFrom returns the identifier of the top-level run ctx belongs to.
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithRunID sets the run identifier used by nested runs. Context.Run
// generates one when the caller did not.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// NopCallback observes nothing. Embed it to implement only one hook.
type NopCallback struct{}

func (NopCallback) PreInference(context.Context, *Stack, Event) Override  { return Keep() }
func (NopCallback) PostInference(context.Context, *Stack, Event) Override { return Keep() }
