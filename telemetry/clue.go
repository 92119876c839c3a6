package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// Clue implements Logger, Metrics, and Tracer by delegating to
// goa.design/clue/log and the global OTEL providers. It implements every
// method of those three interfaces; the dispatcher, planner, refiner, and
// runner call into it.
type Clue struct {
	meter  metric.Meter
	tracer trace.Tracer
}

type clueSpan struct {
	span trace.Span
}

// NewClueBundle constructs a Bundle whose Logger/Metrics/Tracer all
// delegate to clue/OTEL, named under instrumentationName in the
// meter/tracer providers. Configure otel.SetMeterProvider and
// otel.SetTracerProvider (and clue's log.Context/log.WithFormat on the
// context passed to core calls) before invoking runner.Runner with it.
func NewClueBundle(instrumentationName string) Bundle {
	return Bundle{
		Logger: Clue{},
		Metrics: &Clue{
			meter: otel.Meter(instrumentationName),
		},
		Tracer: &Clue{
			tracer: otel.Tracer(instrumentationName),
		},
	}
}

func (Clue) Debug(ctx context.Context, msg string, keyvals ...any) { emit(ctx, "debug", msg, keyvals) }
func (Clue) Info(ctx context.Context, msg string, keyvals ...any)  { emit(ctx, "info", msg, keyvals) }
func (Clue) Warn(ctx context.Context, msg string, keyvals ...any)  { emit(ctx, "warn", msg, keyvals) }
func (Clue) Error(ctx context.Context, msg string, keyvals ...any) { emit(ctx, "error", msg, keyvals) }

// emit builds the shared "msg" field plus any caller keyvals and routes
// to the matching clue/log level. Collapsing the four level methods into
// one switch keeps the field-building logic in a single place instead of
// repeating it per level.
func emit(ctx context.Context, level, msg string, keyvals []any) {
	fields := []log.Fielder{log.KV{K: "msg", V: msg}}
	if level == "warn" {
		fields = append(fields, log.KV{K: "severity", V: "warning"})
	}
	fields = append(fields, kvToClue(keyvals)...)
	switch level {
	case "debug":
		log.Debug(ctx, fields...)
	case "info":
		log.Info(ctx, fields...)
	case "warn":
		log.Warn(ctx, fields...)
	case "error":
		log.Error(ctx, nil, fields...)
	}
}

func (c *Clue) IncCounter(name string, value float64, tags ...string) {
	counter, err := c.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (c *Clue) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := c.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records to a "_gauge"-suffixed histogram: OTEL has no
// synchronous gauge instrument, so a histogram is the usual stand-in for
// point-in-time values recorded outside a callback.
func (c *Clue) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := c.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (c *Clue) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := c.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{span: span}
}

func (c *Clue) Span(ctx context.Context) Span {
	return &clueSpan{span: trace.SpanFromContext(ctx)}
}

func (s *clueSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *clueSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }

func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

func kvToClue(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: k, V: v})
	}
	return fielders
}

// tagsToAttrs adapts the flat string-pair tag convention Metrics callers
// use to kvToAttrs's any-valued keyvals, so both converge on one
// type-switch instead of duplicating it.
func tagsToAttrs(tags []string) []attribute.KeyValue {
	kv := make([]any, len(tags))
	for i, t := range tags {
		kv[i] = t
	}
	return kvToAttrs(kv)
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		keyStr, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(keyStr, val))
		case int:
			attrs = append(attrs, attribute.Int(keyStr, val))
		case int64:
			attrs = append(attrs, attribute.Int64(keyStr, val))
		case float64:
			attrs = append(attrs, attribute.Float64(keyStr, val))
		case bool:
			attrs = append(attrs, attribute.Bool(keyStr, val))
		default:
			attrs = append(attrs, attribute.String(keyStr, ""))
		}
	}
	return attrs
}
