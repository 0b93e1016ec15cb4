package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
	"github.com/francis-maes/lbcpp-sub006/pkg/nodes"
)

var errBoom = errors.New("boom")

type counted struct {
	*nodes.Func
	calls *atomic.Int32
}

func addOne(name string) counted {
	calls := &atomic.Int32{}
	return counted{
		Func: nodes.Map(name, func(v inference.Value) (inference.Value, error) {
			calls.Add(1)
			return v.(int) + 1, nil
		}),
		calls: calls,
	}
}

func failing(name string) *nodes.Func {
	return nodes.Map(name, func(inference.Value) (inference.Value, error) { return nil, errBoom })
}

func run(cbs []inference.Callback, node inference.Node, input, supervision inference.Value) inference.Result {
	ec := inference.NewContext(inference.WithCallbacks(cbs...))
	return ec.Run(context.Background(), node, input, supervision)
}

func TestLogCallbackLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cb := NewLogCallback(zap.New(core))

	res := run([]inference.Callback{cb}, inference.NewSequence("seq", addOne("a").Func, failing("b")), 1, nil)

	require.Equal(t, inference.Error, res.Code)
	assert.Equal(t, 3, logs.FilterMessage("inference started").Len())
	assert.Equal(t, 1, logs.FilterMessage("inference finished").Len())

	failed := logs.FilterMessage("inference failed").All()
	require.Len(t, failed, 2)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Equal(t, "seq/b", failed[0].ContextMap()["path"])
	assert.Equal(t, "seq", failed[1].ContextMap()["path"])
	assert.NotEmpty(t, failed[0].ContextMap()["run_id"])
	assert.Contains(t, failed[0].ContextMap(), "elapsed")
}

func TestLogCallbackMaxDepth(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cb := NewLogCallback(zap.New(core), WithLogLevel(zapcore.InfoLevel), WithMaxDepth(1))

	run([]inference.Callback{cb}, inference.NewSequence("seq", addOne("a").Func, addOne("b").Func), 1, nil)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "seq", entries[0].ContextMap()["path"])
}

func TestTracingCallbackBuildsSpanTree(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	cb := NewTracingCallback(tp)

	res := run([]inference.Callback{cb}, inference.NewSequence("seq", addOne("a").Func, failing("b")), 1, nil)
	require.Equal(t, inference.Error, res.Code)

	spans := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range recorder.Ended() {
		spans[s.Name()] = s
	}
	require.Len(t, spans, 3)
	root := spans["seq"]
	assert.False(t, root.Parent().IsValid())
	assert.Equal(t, root.SpanContext().SpanID(), spans["a"].Parent().SpanID())
	assert.Equal(t, root.SpanContext().TraceID(), spans["b"].SpanContext().TraceID())
	assert.Equal(t, codes.Ok, spans["a"].Status().Code)
	assert.Equal(t, codes.Error, spans["b"].Status().Code)
	assert.NotEmpty(t, spans["b"].Events(), "error should be recorded on the span")
}

func TestTracingCallbackUnderConcurrentParallel(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	cb := NewTracingCallback(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	ec := inference.NewContext(
		inference.WithCallbacks(cb),
		inference.WithConfig(inference.DefaultConfig().WithParallelMode(inference.ParallelConcurrent)))
	par := inference.NewSharedParallel("each", addOne("inc").Func)

	res := ec.Run(context.Background(), par, []inference.Value{1, 2, 3, 4}, nil)

	require.True(t, res.OK())
	var parent sdktrace.ReadOnlySpan
	children := 0
	for _, s := range recorder.Ended() {
		if s.Name() == "each" {
			parent = s
		}
	}
	require.NotNil(t, parent)
	for _, s := range recorder.Ended() {
		if s.Name() == "inc" {
			assert.Equal(t, parent.SpanContext().SpanID(), s.Parent().SpanID())
			children++
		}
	}
	assert.Equal(t, 4, children)
}

func TestMetricsCallback(t *testing.T) {
	reg := prometheus.NewRegistry()
	cb, err := NewMetricsCallback(reg, "test")
	require.NoError(t, err)

	run([]inference.Callback{cb}, inference.NewSequence("seq", addOne("a").Func, failing("b")), 1, nil)
	run([]inference.Callback{cb}, addOne("a").Func, 1, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(cb.runs.WithLabelValues("a", "atomic", "finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.runs.WithLabelValues("b", "atomic", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.runs.WithLabelValues("seq", "sequential", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(cb.inFlight.WithLabelValues("seq", "sequential")))
	assert.Equal(t, 3, testutil.CollectAndCount(cb.duration))
}

func TestMetricsCallbackReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetricsCallback(reg, "test")
	require.NoError(t, err)
	second, err := NewMetricsCallback(reg, "test")
	require.NoError(t, err)

	run([]inference.Callback{second}, addOne("a").Func, 1, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(first.runs.WithLabelValues("a", "atomic", "finished")))
}

func TestCacheCallbackSkipsRepeatedVisits(t *testing.T) {
	node := addOne("inc")
	cb, err := NewCacheCallback(16)
	require.NoError(t, err)
	ec := inference.NewContext(inference.WithCallbacks(cb))

	for i := 0; i < 3; i++ {
		res := ec.Run(context.Background(), node.Func, 41, nil)
		require.True(t, res.OK())
		assert.Equal(t, 42, res.Output)
	}
	ec.Run(context.Background(), node.Func, 1, nil)

	assert.Equal(t, int32(2), node.calls.Load())
	assert.Equal(t, int64(2), cb.Hits())
	assert.Equal(t, int64(2), cb.Misses())
	assert.Equal(t, 2, cb.Len())

	cb.Purge()
	ec.Run(context.Background(), node.Func, 41, nil)
	assert.Equal(t, int32(3), node.calls.Load())
}

func TestCacheCallbackIgnoresSupervisedAndUnselectedVisits(t *testing.T) {
	cached := addOne("cached")
	other := addOne("other")
	cb, err := NewCacheCallback(16, WithCacheNodes(cached.Func))
	require.NoError(t, err)
	ec := inference.NewContext(inference.WithCallbacks(cb))

	for i := 0; i < 2; i++ {
		ec.Run(context.Background(), cached.Func, 1, 2)
		ec.Run(context.Background(), other.Func, 1, nil)
	}

	assert.Equal(t, int32(2), cached.calls.Load())
	assert.Equal(t, int32(2), other.calls.Load())
	assert.Zero(t, cb.Hits())
}

func TestCacheCallbackCustomKey(t *testing.T) {
	node := nodes.Map("len", func(v inference.Value) (inference.Value, error) {
		return len(v.([]int)), nil
	})
	cb, err := NewCacheCallback(4, WithCacheKey(func(_ inference.Node, input, _ inference.Value) (any, bool) {
		return len(input.([]int)), true
	}))
	require.NoError(t, err)
	ec := inference.NewContext(inference.WithCallbacks(cb))

	ec.Run(context.Background(), node, []int{1, 2}, nil)
	res := ec.Run(context.Background(), node, []int{3, 4}, nil)

	assert.Equal(t, 2, res.Output)
	assert.Equal(t, int64(1), cb.Hits())
}

func TestNewCacheCallbackRejectsBadSize(t *testing.T) {
	_, err := NewCacheCallback(0)
	assert.Error(t, err)
}

func TestStopAfter(t *testing.T) {
	a, b, c := addOne("a"), addOne("b"), addOne("c")
	seq := inference.NewSequence("seq", a.Func, b.Func, c.Func)
	stop := NewStopAfter("b")
	ec := inference.NewContext(inference.WithCallbacks(stop))

	res := ec.Run(context.Background(), seq, 0, nil)

	assert.Equal(t, inference.Canceled, res.Code)
	assert.Equal(t, 2, res.Output)
	assert.Zero(t, c.calls.Load())
	assert.True(t, stop.Stopped())

	res = ec.Run(context.Background(), seq, 0, nil)
	assert.Equal(t, inference.Canceled, res.Code)
	assert.Equal(t, int32(1), a.calls.Load())

	stop.Reset()
	res = ec.Run(context.Background(), seq, 10, nil)
	assert.Equal(t, 12, res.Output)
	assert.Equal(t, "StopAfter(b)", stop.String())
}

func TestStopAfterNodeStopsParallel(t *testing.T) {
	first, second := addOne("x"), addOne("x")
	par := inference.NewVectorParallel("par", first.Func, second.Func)
	stop := NewStopAfterNode(first.Func)

	res := run([]inference.Callback{stop}, par, 1, nil)

	assert.Equal(t, inference.Canceled, res.Code)
	assert.Zero(t, second.calls.Load())
}

type sentryCapture struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (s *sentryCapture) hub(t *testing.T) *sentry.Hub {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			s.mu.Lock()
			s.events = append(s.events, event)
			s.mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope())
}

func TestSentryCallbackReportsOnceAtOrigin(t *testing.T) {
	capture := &sentryCapture{}
	cb := NewSentryCallback(capture.hub(t), nil)
	seq := inference.NewSequence("outer", inference.NewSequence("inner", addOne("a").Func, failing("b")))

	res := run([]inference.Callback{cb}, seq, 1, nil)

	require.Equal(t, inference.Error, res.Code)
	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.events, 1)
	event := capture.events[0]
	assert.Equal(t, "b", event.Tags["node"])
	assert.Equal(t, "atomic", event.Tags["kind"])
	assert.Equal(t, "outer/inner/b", event.Contexts["inference"]["path"])
	assert.Equal(t, sentry.LevelError, event.Level)
}

func TestSentryCallbackIgnoresSuccess(t *testing.T) {
	capture := &sentryCapture{}
	cb := NewSentryCallback(capture.hub(t), zap.NewNop())

	run([]inference.Callback{cb, NewStopAfter("a")}, inference.NewSequence("s", addOne("a").Func), 1, nil)

	assert.Empty(t, capture.events)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

func TestEventCallbackPublishesTopLevelRuns(t *testing.T) {
	pub := &fakePublisher{}
	cb := NewEventCallback(pub, "ml", WithEventOutputs())

	res := run([]inference.Callback{cb}, inference.NewSequence("seq", addOne("a").Func), 1, nil)

	require.True(t, res.OK())
	require.Equal(t, []string{"ml.finished"}, pub.subjects)
	var event InferenceEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &event))
	assert.Equal(t, "seq", event.Node)
	assert.Equal(t, "sequential", event.Kind)
	assert.Equal(t, 1, event.Depth)
	assert.NotEmpty(t, event.RunID)
	assert.JSONEq(t, "2", string(event.Output))
}

func TestEventCallbackEveryDepthAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &fakePublisher{err: errors.New("broker down")}
	cb := NewEventCallback(pub, "", WithEventDepth(0), WithEventLogger(zap.New(core)))

	res := run([]inference.Callback{cb}, inference.NewSequence("seq", failing("b")), 1, nil)

	assert.Equal(t, inference.Error, res.Code)
	assert.ErrorIs(t, res.Err, errBoom)
	assert.Equal(t, []string{"lbcpp.inference.error", "lbcpp.inference.error"}, pub.subjects)
	var event InferenceEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &event))
	assert.Equal(t, "seq/b", event.Path)
	assert.Contains(t, event.Error, "boom")
	assert.Empty(t, event.Output)
	assert.Equal(t, 2, logs.FilterMessage("failed to publish inference event").Len())
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()

	run([]inference.Callback{rec}, inference.NewSequence("seq", addOne("a").Func, addOne("b").Func), 1, nil)

	assert.Equal(t, []string{"seq/a", "seq/b", "seq"}, rec.Paths())
	visits := rec.Visits()
	assert.Equal(t, 3, visits[2].Output)
	assert.Equal(t, 2, visits[1].Depth)

	rec.Reset()
	assert.Empty(t, rec.Visits())
}
