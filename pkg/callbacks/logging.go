package callbacks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// LogCallback writes one structured entry per node visit.
//
// Finished visits are logged at the configured level, Canceled at Info and
// Error at Error. Nodes deeper than MaxDepth are not logged.
type LogCallback struct {
	logger   *zap.Logger
	level    zapcore.Level
	maxDepth int
	starts   sync.Map // frame ID -> time.Time
}

// LogOption configures a LogCallback.
type LogOption func(*LogCallback)

// WithLogLevel sets the level used for Finished visits. Default is Debug.
func WithLogLevel(level zapcore.Level) LogOption {
	return func(c *LogCallback) {
		c.level = level
	}
}

// WithMaxDepth limits logging to nodes at most depth levels below the root.
// Zero logs every node.
func WithMaxDepth(depth int) LogOption {
	return func(c *LogCallback) {
		c.maxDepth = depth
	}
}

// NewLogCallback creates a logging callback. A nil logger discards everything.
func NewLogCallback(logger *zap.Logger, opts ...LogOption) *LogCallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &LogCallback{logger: logger, level: zapcore.DebugLevel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LogCallback) PreInference(ctx context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	if !c.enabled(stack) {
		return inference.Keep()
	}
	if frame, ok := stack.CurrentFrame(); ok {
		c.starts.Store(frame.ID, time.Now())
	}
	if ce := c.logger.Check(zapcore.DebugLevel, "inference started"); ce != nil {
		ce.Write(
			zap.String("run_id", inference.RunIDFrom(ctx)),
			zap.String("path", stack.Path()),
			zap.Stringer("kind", ev.Node.Kind()))
	}
	return inference.Keep()
}

func (c *LogCallback) PostInference(ctx context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	if !c.enabled(stack) {
		return inference.Keep()
	}
	fields := []zap.Field{
		zap.String("run_id", inference.RunIDFrom(ctx)),
		zap.String("path", stack.Path()),
		zap.Stringer("kind", ev.Node.Kind()),
		zap.Stringer("code", ev.Code),
	}
	if frame, ok := stack.CurrentFrame(); ok {
		if start, found := c.starts.LoadAndDelete(frame.ID); found {
			fields = append(fields, zap.Duration("elapsed", time.Since(start.(time.Time))))
		}
	}

	switch ev.Code {
	case inference.Error:
		c.logger.Error("inference failed", append(fields, zap.Error(ev.Err))...)
	case inference.Canceled:
		if ev.Err != nil {
			fields = append(fields, zap.NamedError("reason", ev.Err))
		}
		c.logger.Info("inference canceled", fields...)
	default:
		if ce := c.logger.Check(c.level, "inference finished"); ce != nil {
			ce.Write(fields...)
		}
	}
	return inference.Keep()
}

func (c *LogCallback) enabled(stack *inference.Stack) bool {
	return c.maxDepth <= 0 || stack.Depth() <= c.maxDepth
}

var _ inference.Callback = (*LogCallback)(nil)
