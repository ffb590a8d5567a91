package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "board-api/api"
	moveSpanName     = "board.api.move"
	moveEventName    = "board.api.move.request"
	moveEventDomain  = "board.api"
	observabilityMsg = "observability.event"
)

// moveRequestMetrics records one move request as a span and an
// observability.event log entry.
type moveRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	route        string
	kind         string
	authDuration time.Duration
	planDuration time.Duration
	writes       int
	applied      bool
	duplicate    bool
	failed       bool
	errorStage   string
}

func newMoveRequestMetrics(ctx context.Context, logger *log.Logger, route, kind string) (*moveRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, moveSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &moveRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		kind:   kind,
	}, spanCtx
}

func (m *moveRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *moveRequestMetrics) ObservePlan(d time.Duration) {
	if d > 0 {
		m.planDuration = d
	}
}

func (m *moveRequestMetrics) SetResult(writes int, applied, failed bool) {
	if writes < 0 {
		writes = 0
	}
	m.writes = writes
	m.applied = applied
	m.failed = failed
}

func (m *moveRequestMetrics) SetDuplicate() { m.duplicate = true }

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and emits the observability event.
func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		"http.route":            m.route,
		"board.move.kind":       m.kind,
		"board.move.total_ms":   durationToMillis(time.Since(m.start)),
		"board.move.writes":     m.writes,
		"board.move.applied":    m.applied,
		"board.move.duplicate":  m.duplicate,
		"board.move.write_fail": m.failed,
	}
	if m.authDuration > 0 {
		attrs["board.move.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.planDuration > 0 {
		attrs["board.move.plan_ms"] = durationToMillis(m.planDuration)
	}
	if m.errorStage != "" {
		attrs["board.move.error_stage"] = m.errorStage
	}

	if m.span != nil {
		kvs := toAttributes(attrs)
		m.span.SetAttributes(kvs...)
		m.span.SetAttributes(attribute.Int("http.status_code", status))

		eventAttrs := make([]attribute.KeyValue, 0, len(kvs)+5)
		eventAttrs = append(eventAttrs, kvs...)
		eventAttrs = append(eventAttrs,
			attribute.String("event.name", moveEventName),
			attribute.String("event.domain", moveEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		)
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		}
		m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))

		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
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
	fields := log.Fields{
		"event.name":      moveEventName,
		"event.domain":    moveEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"status":          status,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityMsg)
}

// severityForStatus maps a response to OpenTelemetry log severity.
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

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func toAttributes(values map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(values))
	for _, k := range keys {
		switch v := values[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
