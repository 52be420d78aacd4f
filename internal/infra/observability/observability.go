// Package observability provides lightweight in-process tracing and the
// Prometheus metrics for the ingestion and query surfaces.
//
// This provides:
//   - Trace spans for one ingestion transaction (validate → idempotency
//     → quota → per-segment processing → commit)
//   - Trace-context propagation across that transaction's call chain
//   - Prometheus counters for ingestion outcomes, rejection reasons,
//     quota denials, idempotency conflicts, and ETA query volume
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans — Lightweight span tracking without external OTel SDK dependency
// ═══════════════════════════════════════════════════════════════════════════

// SpanKind classifies a span.
type SpanKind int

const (
	SpanInternal SpanKind = iota
	SpanServer
	SpanClient
)

// Span represents a unit of work within a distributed trace.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	Kind      SpanKind          `json:"kind"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer provides lightweight distributed tracing.
// In production, this would wrap OpenTelemetry SDK.
// Phase 3 implementation stores spans in-memory for inspection and export.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a new span with the given operation name, classified
// as SpanInternal. Returns the span (caller must call EndSpan when done).
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	return t.StartSpanKind(ctx, operation, SpanInternal, attrs)
}

// StartSpanKind begins a new span classified as kind — SpanServer for
// the span covering one inbound ride_summary submission, SpanInternal
// for everything nested under it.
func (t *Tracer) StartSpanKind(ctx context.Context, operation string, kind SpanKind, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation, Kind: kind}
	}

	span := &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		Kind:      kind,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}

	return span
}

// SetAttr adds or overwrites one attribute on a span that is still open.
// Used to record a request's outcome — accepted/rejected segment counts,
// idempotency outcome, final status code — once it is known, without
// forcing the caller to know those values up front at StartSpan time.
func (s *Span) SetAttr(key, value string) {
	if s == nil {
		return
	}
	if s.Attrs == nil {
		s.Attrs = make(map[string]string)
	}
	s.Attrs[key] = value
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	// Return most recent spans
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "etalearn-trace-id"
	spanIDKey  contextKey = "etalearn-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// generateID creates a short unique ID (not cryptographically secure — fine for tracing).
var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}


// ═══════════════════════════════════════════════════════════════════════════
// Ingestion / Query Metrics
// ═══════════════════════════════════════════════════════════════════════════

// IngestRequestsTotal counts every POST /v1/ride_summary that reached
// shape validation, regardless of eventual outcome.
var IngestRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "etalearn",
	Subsystem: "ingest",
	Name:      "requests_total",
	Help:      "Total ride_summary submissions that reached shape validation.",
})

// SegmentsAcceptedTotal counts segment observations that updated the
// Statistics Store.
var SegmentsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "etalearn",
	Subsystem: "ingest",
	Name:      "segments_accepted_total",
	Help:      "Total segment observations applied to the statistics store.",
})

// SegmentsRejectedTotal counts segment observations rejected, by reason
// (outlier, low_confidence, invalid_segment, stale_timestamp,
// too_many_segments).
var SegmentsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "etalearn",
	Subsystem: "ingest",
	Name:      "segments_rejected_total",
	Help:      "Total segment observations rejected, by reason.",
}, []string{"reason"})

// IdempotencyConflictsTotal counts conflict outcomes: the same
// idempotency key presented with a different body hash.
var IdempotencyConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "etalearn",
	Subsystem: "idempotency",
	Name:      "conflicts_total",
	Help:      "Total idempotency key reuses with a mismatched body hash.",
})

// QuotaDeniedTotal counts quota denials.
var QuotaDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "etalearn",
	Subsystem: "quota",
	Name:      "denied_total",
	Help:      "Total requests denied by the token bucket quota gate.",
})

// StoreErrorsTotal counts storage-layer failures surfaced as
// server_error, across both the ingest and query paths.
var StoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "etalearn",
	Subsystem: "store",
	Name:      "errors_total",
	Help:      "Total storage failures surfaced to callers as server_error.",
})

// ETAQueriesTotal counts GET /v1/eta requests.
var ETAQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "etalearn",
	Subsystem: "query",
	Name:      "eta_requests_total",
	Help:      "Total GET /v1/eta requests received.",
})

// RetentionRowsSweptTotal counts rows removed by the retention sweeper,
// by table class.
var RetentionRowsSweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "etalearn",
	Subsystem: "retention",
	Name:      "rows_swept_total",
	Help:      "Total rows removed by the retention sweeper, by table.",
}, []string{"table"})
