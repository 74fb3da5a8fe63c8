package breaker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsCollector implements MetricsCollector using OpenTelemetry.
type OTelMetricsCollector struct {
	ctx          context.Context
	successes    metric.Int64Counter
	failures     metric.Int64Counter
	stateChanges metric.Int64Counter
	rejections   metric.Int64Counter
}

// NewOTelMetricsCollector creates a collector on the global meter provider.
func NewOTelMetricsCollector(ctx context.Context) (*OTelMetricsCollector, error) {
	meter := otel.Meter("farescout/breaker")

	successes, err := meter.Int64Counter("circuit_breaker.success",
		metric.WithDescription("Successful requests recorded per site and scope"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("circuit_breaker.failure",
		metric.WithDescription("Failures recorded per site, scope and failure type"))
	if err != nil {
		return nil, err
	}
	stateChanges, err := meter.Int64Counter("circuit_breaker.state_change",
		metric.WithDescription("Circuit state transitions"))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("circuit_breaker.rejected",
		metric.WithDescription("Requests rejected by an open circuit"))
	if err != nil {
		return nil, err
	}

	return &OTelMetricsCollector{
		ctx:          ctx,
		successes:    successes,
		failures:     failures,
		stateChanges: stateChanges,
		rejections:   rejections,
	}, nil
}

// RecordSuccess records a successful request
func (o *OTelMetricsCollector) RecordSuccess(site, scope string) {
	o.successes.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("site", site),
		attribute.String("scope", scope),
	))
}

// RecordFailure records a failure with its type
func (o *OTelMetricsCollector) RecordFailure(site, scope, failureType string) {
	o.failures.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("site", site),
		attribute.String("scope", scope),
		attribute.String("failure_type", failureType),
	))
}

// RecordStateChange records a state transition
func (o *OTelMetricsCollector) RecordStateChange(site, scope, from, to string) {
	o.stateChanges.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("site", site),
		attribute.String("scope", scope),
		attribute.String("from_state", from),
		attribute.String("to_state", to),
	))
}

// RecordRejection records a request refused by an open circuit
func (o *OTelMetricsCollector) RecordRejection(site, scope string) {
	o.rejections.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("site", site),
		attribute.String("scope", scope),
	))
}
