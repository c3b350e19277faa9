package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the pipeline's operational counters. A nil-safe no-op
// implementation backs tests and disabled deployments.
type Metrics interface {
	RecordPipelineRun(ctx context.Context, tenant string, duration time.Duration, outcome string)
	RecordGateDecision(ctx context.Context, level string, enforcement string)
	RecordHandlerExecution(ctx context.Context, action string, duration time.Duration, err error)
	RecordKnowledgeRefusal(ctx context.Context, reason string)
	RecordDedupHit(ctx context.Context, action string)
	RecordProactiveDropped(ctx context.Context, reason string)
	RecordLLMTokens(ctx context.Context, provider string, tokens int)
}

// InitMetrics builds prometheus-backed metrics, or no-op when disabled.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("kokoro")

	m := &prometheusMetrics{}

	if m.pipelineDuration, err = meter.Float64Histogram(
		"kokoro_pipeline_duration_seconds",
		metric.WithDescription("Full pipeline run duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pipeline duration histogram: %w", err)
	}

	if m.pipelineRuns, err = meter.Int64Counter(
		"kokoro_pipeline_runs_total",
		metric.WithDescription("Total pipeline runs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pipeline runs counter: %w", err)
	}

	if m.gateDecisions, err = meter.Int64Counter(
		"kokoro_gate_decisions_total",
		metric.WithDescription("Authorization gate decisions by level"),
	); err != nil {
		return nil, fmt.Errorf("failed to create gate decisions counter: %w", err)
	}

	if m.handlerDuration, err = meter.Float64Histogram(
		"kokoro_handler_duration_seconds",
		metric.WithDescription("Capability handler duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create handler duration histogram: %w", err)
	}

	if m.handlerErrors, err = meter.Int64Counter(
		"kokoro_handler_errors_total",
		metric.WithDescription("Capability handler errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create handler errors counter: %w", err)
	}

	if m.knowledgeRefusals, err = meter.Int64Counter(
		"kokoro_knowledge_refusals_total",
		metric.WithDescription("Knowledge answers refused instead of guessed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create refusals counter: %w", err)
	}

	if m.dedupHits, err = meter.Int64Counter(
		"kokoro_dedup_hits_total",
		metric.WithDescription("Handler invocations suppressed by the idempotency window"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dedup hits counter: %w", err)
	}

	if m.proactiveDropped, err = meter.Int64Counter(
		"kokoro_proactive_dropped_total",
		metric.WithDescription("Proactive messages dropped by the safety gate"),
	); err != nil {
		return nil, fmt.Errorf("failed to create proactive dropped counter: %w", err)
	}

	if m.llmTokens, err = meter.Int64Counter(
		"kokoro_llm_tokens_total",
		metric.WithDescription("Tokens consumed by LLM calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm tokens counter: %w", err)
	}

	return m, nil
}

type prometheusMetrics struct {
	pipelineDuration  metric.Float64Histogram
	pipelineRuns      metric.Int64Counter
	gateDecisions     metric.Int64Counter
	handlerDuration   metric.Float64Histogram
	handlerErrors     metric.Int64Counter
	knowledgeRefusals metric.Int64Counter
	dedupHits         metric.Int64Counter
	proactiveDropped  metric.Int64Counter
	llmTokens         metric.Int64Counter
}

func (m *prometheusMetrics) RecordPipelineRun(ctx context.Context, tenant string, duration time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("outcome", outcome),
	)
	m.pipelineRuns.Add(ctx, 1, attrs)
	m.pipelineDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *prometheusMetrics) RecordGateDecision(ctx context.Context, level string, enforcement string) {
	m.gateDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", level),
		attribute.String("enforcement", enforcement),
	))
}

func (m *prometheusMetrics) RecordHandlerExecution(ctx context.Context, action string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("action", action))
	m.handlerDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.handlerErrors.Add(ctx, 1, attrs)
	}
}

func (m *prometheusMetrics) RecordKnowledgeRefusal(ctx context.Context, reason string) {
	m.knowledgeRefusals.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *prometheusMetrics) RecordDedupHit(ctx context.Context, action string) {
	m.dedupHits.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *prometheusMetrics) RecordProactiveDropped(ctx context.Context, reason string) {
	m.proactiveDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *prometheusMetrics) RecordLLMTokens(ctx context.Context, provider string, tokens int) {
	m.llmTokens.Add(ctx, int64(tokens), metric.WithAttributes(attribute.String("provider", provider)))
}

// NoopMetrics discards every record.
type NoopMetrics struct{}

func (NoopMetrics) RecordPipelineRun(context.Context, string, time.Duration, string) {}
func (NoopMetrics) RecordGateDecision(context.Context, string, string)              {}
func (NoopMetrics) RecordHandlerExecution(context.Context, string, time.Duration, error) {
}
func (NoopMetrics) RecordKnowledgeRefusal(context.Context, string) {}
func (NoopMetrics) RecordDedupHit(context.Context, string)         {}
func (NoopMetrics) RecordProactiveDropped(context.Context, string) {}
func (NoopMetrics) RecordLLMTokens(context.Context, string, int)   {}
