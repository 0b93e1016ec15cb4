package callbacks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// InferenceEvent is the JSON document published for a node visit.
type InferenceEvent struct {
	RunID      string          `json:"run_id"`
	Node       string          `json:"node"`
	Kind       string          `json:"kind"`
	Path       string          `json:"path"`
	Depth      int             `json:"depth"`
	Code       string          `json:"code"`
	Error      string          `json:"error,omitempty"`
	DurationMs float64         `json:"duration_ms"`
	Timestamp  time.Time       `json:"timestamp"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// EventCallback publishes an InferenceEvent when a node visit completes, on
// the subject "<prefix>.<code>". Publishing failures are logged and never
// affect the run.
type EventCallback struct {
	publisher     Publisher
	prefix        string
	logger        *zap.Logger
	maxDepth      int
	includeOutput bool
	starts        sync.Map // frame ID -> time.Time
}

// EventOption configures an EventCallback.
type EventOption func(*EventCallback)

// WithEventDepth publishes for nodes at most depth levels below the root.
// The default of 1 publishes top-level runs only; zero publishes every node.
func WithEventDepth(depth int) EventOption {
	return func(c *EventCallback) {
		c.maxDepth = depth
	}
}

// WithEventOutputs includes the JSON encoded output in Finished events.
func WithEventOutputs() EventOption {
	return func(c *EventCallback) {
		c.includeOutput = true
	}
}

// WithEventLogger sets the logger used for publishing failures.
func WithEventLogger(logger *zap.Logger) EventOption {
	return func(c *EventCallback) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewEventCallback publishes through p under subject prefix.
func NewEventCallback(p Publisher, prefix string, opts ...EventOption) *EventCallback {
	if prefix == "" {
		prefix = "lbcpp.inference"
	}
	c := &EventCallback{publisher: p, prefix: prefix, logger: zap.NewNop(), maxDepth: 1}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *EventCallback) PreInference(_ context.Context, stack *inference.Stack, _ inference.Event) inference.Override {
	if !c.enabled(stack) {
		return inference.Keep()
	}
	if frame, ok := stack.CurrentFrame(); ok {
		c.starts.Store(frame.ID, time.Now())
	}
	return inference.Keep()
}

func (c *EventCallback) PostInference(ctx context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	if !c.enabled(stack) {
		return inference.Keep()
	}
	event := InferenceEvent{
		RunID:     inference.RunIDFrom(ctx),
		Node:      ev.Node.Name(),
		Kind:      ev.Node.Kind().String(),
		Path:      stack.Path(),
		Depth:     stack.Depth(),
		Code:      ev.Code.String(),
		Timestamp: time.Now().UTC(),
	}
	if ev.Err != nil {
		event.Error = ev.Err.Error()
	}
	if frame, ok := stack.CurrentFrame(); ok {
		if start, found := c.starts.LoadAndDelete(frame.ID); found {
			event.DurationMs = float64(time.Since(start.(time.Time)).Microseconds()) / 1000
		}
	}
	if c.includeOutput && ev.Code == inference.Finished && ev.HasOutput {
		if raw, err := json.Marshal(ev.Output); err == nil {
			event.Output = raw
		} else {
			c.logger.Debug("output not encodable, publishing without it",
				zap.String("path", event.Path), zap.Error(err))
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Warn("failed to encode inference event", zap.String("path", event.Path), zap.Error(err))
		return inference.Keep()
	}
	subject := c.prefix + "." + event.Code
	if err := c.publisher.Publish(subject, data); err != nil {
		c.logger.Warn("failed to publish inference event",
			zap.String("subject", subject),
			zap.String("path", event.Path),
			zap.Error(err))
	}
	return inference.Keep()
}

func (c *EventCallback) enabled(stack *inference.Stack) bool {
	return c.publisher != nil && (c.maxDepth <= 0 || stack.Depth() <= c.maxDepth)
}

var _ inference.Callback = (*EventCallback)(nil)
