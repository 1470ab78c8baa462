package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gezibash/arc-conduit/pkg/logging"
)

const tracerName = "github.com/gezibash/arc-conduit"

// StartSpan starts a span. A child uses the provider of its parent span so
// that spans stay in one trace when a non-global provider is in use.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tp := otel.GetTracerProvider()
	if parent := trace.SpanFromContext(ctx); parent.SpanContext().IsValid() {
		tp = parent.TracerProvider()
	}
	return tp.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan ends a span, recording err when set.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Annotate adds stream attributes to the span in ctx, so an operation can be
// tagged once its configuration is known.
func Annotate(ctx context.Context, channel string, streamID int32) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("conduit.channel", channel),
		attribute.Int("conduit.stream_id", int(streamID)),
	)
}

// Operation is one command run, tracked as a span, a duration histogram
// sample and a pair of log lines.
type Operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	name    string
	start   time.Time
	logger  *logging.Logger
}

// StartOperation begins an operation. m may be nil; a nil log uses slog's
// default logger.
func StartOperation(ctx context.Context, m *Metrics, log *logging.Logger, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := StartSpan(ctx, name, attrs...)
	if log == nil {
		log = logging.New(nil)
	}
	logger := log.With(slog.String("operation", name))
	logger.DebugContext(ctx, "operation started")

	return &Operation{
		ctx:     ctx,
		span:    span,
		metrics: m,
		name:    name,
		start:   time.Now(),
		logger:  logger,
	}, ctx
}

// Span returns the operation's span.
func (o *Operation) Span() trace.Span { return o.span }

// End records the duration and outcome.
func (o *Operation) End(err error) {
	duration := time.Since(o.start)
	status := "ok"
	if err != nil {
		status = "error"
		o.logger.ErrorContext(o.ctx, "operation failed", "error", err, "duration", duration)
	} else {
		o.logger.InfoContext(o.ctx, "operation completed", "duration", duration)
	}

	EndSpan(o.span, err)
	if o.metrics != nil {
		o.metrics.OperationDuration.WithLabelValues(o.name, status).Observe(duration.Seconds())
		o.metrics.OperationTotal.WithLabelValues(o.name, status).Inc()
	}
}
