package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	moveSpanName    = "taskboard.api.move"
	moveEventName   = "task.move"
	moveEventDomain = "taskboard"
	moveRoute       = "/api/tasks/:id/move"
)

// moveRequestMetrics accumulates per-stage timings of a move request and
// emits them once, as a span plus one structured log line.
type moveRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	applyDuration  time.Duration
	targetProvided bool
	conflict       bool
	errorStage     string
}

func newMoveRequestMetrics(ctx context.Context, logger *log.Logger) (*moveRequestMetrics, context.Context) {
	m := &moveRequestMetrics{
		logger: logger,
		start:  time.Now(),
	}
	tracer := otel.Tracer("taskboard-api/api")
	spanCtx, span := tracer.Start(ctx, moveSpanName, trace.WithSpanKind(trace.SpanKindServer))
	m.span = span
	return m, spanCtx
}

func (m *moveRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *moveRequestMetrics) ObserveApply(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.applyDuration = duration
}

func (m *moveRequestMetrics) SetTargetColumnProvided(provided bool) {
	m.targetProvided = provided
}

func (m *moveRequestMetrics) SetConflict(conflict bool) {
	m.conflict = conflict
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finishes the span and writes the observability event. Must be called
// exactly once per request.
func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMillis := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", moveRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("taskboard.move.total_ms", totalMillis),
		attribute.Bool("taskboard.move.target_column_provided", m.targetProvided),
		attribute.Bool("taskboard.move.conflict", m.conflict),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskboard.move.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.applyDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskboard.move.apply_ms", durationToMillis(m.applyDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskboard.move.error_stage", m.errorStage))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)

		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", moveEventName),
			attribute.String("event.domain", moveEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))

		if err != nil || status >= http.StatusInternalServerError {
			desc := "request failed"
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      moveEventName,
		"event.domain":    moveEventDomain,
		"attributes":      attrMap,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
