// Package telemetry defines the logging, metrics, and tracing interfaces
// used throughout agentcore. Implementations typically delegate to
// goa.design/clue and OpenTelemetry, but the interfaces are intentionally
// small so tests can provide lightweight stubs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the core.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so core code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Bundle groups the three telemetry surfaces a component depends on.
// Zero-value Bundles resolve to no-ops via the Or* helpers below.
type Bundle struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// OrNoop fills any nil fields in b with no-op implementations and returns
// the result, so components can always call b.Logger.Info(...) safely.
func (b Bundle) OrNoop() Bundle {
	if b.Logger == nil {
		b.Logger = NewNoopLogger()
	}
	if b.Metrics == nil {
		b.Metrics = NewNoopMetrics()
	}
	if b.Tracer == nil {
		b.Tracer = NewNoopTracer()
	}
	return b
}

// Metric and span names the dispatcher, planner, and refiner emit.
// Centralizing the vocabulary here (rather than inlining string literals at
// each call site, the way individual instrumentation calls are usually
// written) keeps a session's metrics/traces queryable by a fixed, documented
// name regardless of which component emitted them.
const (
	// MetricSubtaskDispatched counts one dispatch attempt per subtask.
	MetricSubtaskDispatched = "agentcore.subtask.dispatched"
	// MetricSubtaskCompleted counts subtasks that finished successfully.
	MetricSubtaskCompleted = "agentcore.subtask.completed"
	// MetricSubtaskFailed counts subtasks a worker reported ok=false for.
	MetricSubtaskFailed = "agentcore.subtask.failed"
	// MetricSubtaskCancelled counts subtasks ended by cooperative cancellation.
	MetricSubtaskCancelled = "agentcore.subtask.cancelled"
	// MetricSubtaskLatency records wall-clock time spent inside a single
	// WorkerAgent.RunSubtask call.
	MetricSubtaskLatency = "agentcore.subtask.latency"
	// MetricLLMLatency records wall-clock time spent inside a single
	// LLM.Invoke call, tagged by caller role (planner/refiner).
	MetricLLMLatency = "agentcore.llm.latency"

	// SpanSubtask wraps one WorkerAgent.RunSubtask invocation.
	SpanSubtask = "agentcore.dispatcher.run_subtask"
	// SpanPlan wraps the planner's single LLM call.
	SpanPlan = "agentcore.planner.plan"
	// SpanRefine wraps the refiner's single LLM call.
	SpanRefine = "agentcore.refiner.refine"
)
