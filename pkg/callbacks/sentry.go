package callbacks

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// SentryCallback reports failed runs to Sentry. A failure is reported once,
// at the frame it originated from, not again by every enclosing composite.
type SentryCallback struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// NewSentryCallback reports through hub. A nil hub uses sentry.CurrentHub.
func NewSentryCallback(hub *sentry.Hub, logger *zap.Logger) *SentryCallback {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SentryCallback{hub: hub, logger: logger}
}

func (c *SentryCallback) PreInference(context.Context, *inference.Stack, inference.Event) inference.Override {
	return inference.Keep()
}

func (c *SentryCallback) PostInference(ctx context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	if ev.Code != inference.Error || ev.Err == nil {
		return inference.Keep()
	}
	var ne *inference.NodeError
	if errors.As(ev.Err, &ne) && ne.Path != stack.Path() {
		return inference.Keep()
	}

	// Clone so concurrent slots never share a scope.
	hub := c.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("component", "inference")
		scope.SetTag("node", ev.Node.Name())
		scope.SetTag("kind", ev.Node.Kind().String())
		scope.SetTag("run_id", inference.RunIDFrom(ctx))
		scope.SetContext("inference", sentry.Context{
			"path":       stack.Path(),
			"depth":      stack.Depth(),
			"supervised": !inference.IsMissing(ev.Supervision),
		})
	})
	if id := hub.CaptureException(ev.Err); id != nil {
		c.logger.Debug("reported inference failure",
			zap.String("event_id", string(*id)),
			zap.String("path", stack.Path()))
	}
	return inference.Keep()
}

// Flush waits for buffered events to be sent.
func (c *SentryCallback) Flush(timeout time.Duration) bool {
	return c.hub.Flush(timeout)
}

var _ inference.Callback = (*SentryCallback)(nil)
