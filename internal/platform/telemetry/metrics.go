package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "contentflow"

// Metrics holds the pipeline's counters. Instruments come from the global
// MeterProvider, which is a no-op until the process installs an SDK.
type Metrics struct {
	Transitions       metric.Int64Counter
	PublishAttempts   metric.Int64Counter
	PublishOutcomes   metric.Int64Counter
	AdapterDuration   metric.Float64Histogram
	WebhookDeliveries metric.Int64Counter
}

func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	transitions, err := meter.Int64Counter(
		"workflow.transitions.total",
		metric.WithDescription("Post status transitions"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter(
		"publish.attempts.total",
		metric.WithDescription("Publish jobs claimed for an adapter call"),
	)
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter(
		"publish.outcomes.total",
		metric.WithDescription("Publish job outcomes by status"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"publish.adapter.duration",
		metric.WithDescription("Adapter publish call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter(
		"webhook.deliveries.total",
		metric.WithDescription("Webhook delivery attempts by result"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Transitions:       transitions,
		PublishAttempts:   attempts,
		PublishOutcomes:   outcomes,
		AdapterDuration:   duration,
		WebhookDeliveries: deliveries,
	}, nil
}

// MustInitMetrics is used by tests and binaries where the global provider cannot fail.
func MustInitMetrics() *Metrics {
	m, err := InitMetrics()
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("post.from", from),
		attribute.String("post.to", to),
	))
}

func (m *Metrics) RecordPublishAttempt(ctx context.Context, platform string) {
	if m == nil {
		return
	}
	m.PublishAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", platform)))
}

func (m *Metrics) RecordPublishOutcome(ctx context.Context, platform, status string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("status", status),
	)
	m.PublishOutcomes.Add(ctx, 1, attrs)
	m.AdapterDuration.Record(ctx, took.Seconds(), attrs)
}

func (m *Metrics) RecordDelivery(ctx context.Context, eventType string, delivered bool) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Bool("delivered", delivered),
	))
}

// StartSpan opens a span on the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}
