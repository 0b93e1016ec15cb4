package callbacks

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

const instrumentationName = "github.com/francis-maes/lbcpp-sub006/pkg/callbacks"

// TracingCallback opens one span per node visit. Child spans are parented
// on the span of the enclosing frame, so a run produces a span tree shaped
// like the stack. The root span is parented on any span carried by the
// caller's context.
type TracingCallback struct {
	tracer trace.Tracer
	spans  sync.Map // frame ID -> trace.Span
}

// NewTracingCallback creates a tracing callback. A nil provider uses the
// global one installed by otel.SetTracerProvider.
func NewTracingCallback(tp trace.TracerProvider) *TracingCallback {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingCallback{tracer: tp.Tracer(instrumentationName)}
}

func (c *TracingCallback) PreInference(ctx context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	frame, ok := stack.CurrentFrame()
	if !ok {
		return inference.Keep()
	}
	if parent, ok := stack.ParentFrame(); ok {
		if span, found := c.spans.Load(parent.ID); found {
			ctx = trace.ContextWithSpan(ctx, span.(trace.Span))
		}
	}

	_, span := c.tracer.Start(ctx, ev.Node.Name(),
		trace.WithAttributes(
			attribute.String("inference.kind", ev.Node.Kind().String()),
			attribute.String("inference.path", stack.Path()),
			attribute.String("inference.run_id", inference.RunIDFrom(ctx)),
			attribute.Int("inference.depth", stack.Depth()),
			attribute.Bool("inference.supervised", !inference.IsMissing(ev.Supervision)),
		))
	c.spans.Store(frame.ID, span)
	return inference.Keep()
}

func (c *TracingCallback) PostInference(_ context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	frame, ok := stack.CurrentFrame()
	if !ok {
		return inference.Keep()
	}
	value, found := c.spans.LoadAndDelete(frame.ID)
	if !found {
		return inference.Keep()
	}
	span := value.(trace.Span)
	span.SetAttributes(attribute.String("inference.code", ev.Code.String()))

	switch ev.Code {
	case inference.Error:
		if ev.Err != nil {
			span.RecordError(ev.Err)
			span.SetStatus(codes.Error, ev.Err.Error())
		} else {
			span.SetStatus(codes.Error, "inference failed")
		}
	case inference.Canceled:
		span.AddEvent("canceled")
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return inference.Keep()
}

var _ inference.Callback = (*TracingCallback)(nil)
