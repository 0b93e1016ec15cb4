package callbacks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// MetricsCallback exports per-node run counts, latencies and in-flight
// visits to Prometheus. Labels use the node name and kind, never the path,
// to keep cardinality bounded for shared children.
type MetricsCallback struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	starts   sync.Map // frame ID -> time.Time
}

// NewMetricsCallback registers the collectors on reg under namespace.
// A nil reg uses prometheus.DefaultRegisterer. Collectors already registered
// by an earlier callback with the same namespace are reused.
func NewMetricsCallback(reg prometheus.Registerer, namespace string) (*MetricsCallback, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "lbcpp"
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "runs_total",
		Help:      "Node visits by return code.",
	}, []string{"node", "kind", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "duration_seconds",
		Help:      "Time spent in a node visit, children included.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"node", "kind"})
	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "in_flight",
		Help:      "Node visits currently running.",
	}, []string{"node", "kind"})

	var err error
	if runs, err = register(reg, runs); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if inFlight, err = register(reg, inFlight); err != nil {
		return nil, err
	}
	return &MetricsCallback{runs: runs, duration: duration, inFlight: inFlight}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (c *MetricsCallback) PreInference(_ context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	if frame, ok := stack.CurrentFrame(); ok {
		c.starts.Store(frame.ID, time.Now())
	}
	c.inFlight.WithLabelValues(ev.Node.Name(), ev.Node.Kind().String()).Inc()
	return inference.Keep()
}

func (c *MetricsCallback) PostInference(_ context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	name, kind := ev.Node.Name(), ev.Node.Kind().String()
	c.inFlight.WithLabelValues(name, kind).Dec()
	c.runs.WithLabelValues(name, kind, ev.Code.String()).Inc()
	if frame, ok := stack.CurrentFrame(); ok {
		if start, found := c.starts.LoadAndDelete(frame.ID); found {
			c.duration.WithLabelValues(name, kind).Observe(time.Since(start.(time.Time)).Seconds())
		}
	}
	return inference.Keep()
}

var _ inference.Callback = (*MetricsCallback)(nil)
