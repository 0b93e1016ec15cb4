// Package callbacks provides instrumentation callbacks for an
// inference.Context: structured logging, OpenTelemetry spans, Prometheus
// metrics, result caching, stop-after cancellation, Sentry reporting and
// event publishing.
//
// Callbacks that pair pre and post work key their state by the frame ID of
// the running node, so they are safe under concurrent parallel execution.
package callbacks
