package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Noop implements Logger, Metrics, Tracer, and Span by discarding
// everything. It carries no state, so one value serves all four roles —
// this is what Bundle.OrNoop defaults to and what tests that don't care
// about telemetry pass around.
type Noop struct{}

func NewNoopLogger() Logger   { return Noop{} }
func NewNoopMetrics() Metrics { return Noop{} }
func NewNoopTracer() Tracer   { return Noop{} }

func (Noop) Debug(context.Context, string, ...any) {}
func (Noop) Info(context.Context, string, ...any)  {}
func (Noop) Warn(context.Context, string, ...any)  {}
func (Noop) Error(context.Context, string, ...any) {}

func (Noop) IncCounter(string, float64, ...string)        {}
func (Noop) RecordTimer(string, time.Duration, ...string) {}
func (Noop) RecordGauge(string, float64, ...string)       {}

func (Noop) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, Noop{}
}
func (Noop) Span(context.Context) Span { return Noop{} }

func (Noop) End(...trace.SpanEndOption)               {}
func (Noop) AddEvent(string, ...any)                  {}
func (Noop) SetStatus(codes.Code, string)             {}
func (Noop) RecordError(error, ...trace.EventOption)  {}
