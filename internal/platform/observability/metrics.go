package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/brightatelier/commerce-api"

// Metrics owns the OpenTelemetry instruments shared by middleware and services.
type Metrics struct {
	verifications   metric.Int64Counter
	verifyLatency   metric.Float64Histogram
	webhookEvents   metric.Int64Counter
	sweepRuns       metric.Int64Counter
	sweepOrders     metric.Int64Counter
	sweepDuration   metric.Float64Histogram
	gatewayRequests metric.Float64Histogram
}

// NewMetrics registers instruments on the supplied meter, or the global provider when nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	m := &Metrics{}
	var err error
	if m.verifications, err = meter.Int64Counter("commerce.auth.verifications",
		metric.WithDescription("Count of request verifications by kind and outcome")); err != nil {
		return nil, err
	}
	if m.verifyLatency, err = meter.Float64Histogram("commerce.auth.verification_latency",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.webhookEvents, err = meter.Int64Counter("commerce.webhook.events",
		metric.WithDescription("Webhook events by source and outcome")); err != nil {
		return nil, err
	}
	if m.sweepRuns, err = meter.Int64Counter("commerce.sweep.runs"); err != nil {
		return nil, err
	}
	if m.sweepOrders, err = meter.Int64Counter("commerce.sweep.orders",
		metric.WithDescription("Orders touched by reconciliation sweeps by outcome")); err != nil {
		return nil, err
	}
	if m.sweepDuration, err = meter.Float64Histogram("commerce.sweep.duration", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.gatewayRequests, err = meter.Float64Histogram("commerce.gateway.request_latency",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordVerification satisfies auth.MetricsRecorder.
func (m *Metrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	m.verifications.Add(ctx, 1, attrs)
	m.verifyLatency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}

// RecordWebhook counts a processed webhook event.
func (m *Metrics) RecordWebhook(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// RecordSweep records a completed sweep with per-outcome order counts.
func (m *Metrics) RecordSweep(ctx context.Context, mode string, duration time.Duration, counts map[string]int) {
	if m == nil {
		return
	}
	modeAttr := attribute.String("mode", mode)
	m.sweepRuns.Add(ctx, 1, metric.WithAttributes(modeAttr))
	m.sweepDuration.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(modeAttr))
	for outcome, n := range counts {
		if n == 0 {
			continue
		}
		m.sweepOrders.Add(ctx, int64(n), metric.WithAttributes(modeAttr, attribute.String("outcome", outcome)))
	}
}

// RecordGatewayCall records latency of an outbound payment gateway call.
func (m *Metrics) RecordGatewayCall(ctx context.Context, provider, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Bool("error", err != nil),
	))
}
