package errhandler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsCollector implements MetricsCollector using OpenTelemetry.
type OTelMetricsCollector struct {
	ctx    context.Context
	errors metric.Int64Counter
	alerts metric.Int64Counter
}

// NewOTelMetricsCollector creates a collector on the global meter provider.
func NewOTelMetricsCollector(ctx context.Context) (*OTelMetricsCollector, error) {
	meter := otel.Meter("farescout/errhandler")

	errors, err := meter.Int64Counter("error_handler.handled",
		metric.WithDescription("Errors handled per adapter, category, severity and action"))
	if err != nil {
		return nil, err
	}
	alerts, err := meter.Int64Counter("error_handler.alert",
		metric.WithDescription("Alerts dispatched for critical and emergency errors"))
	if err != nil {
		return nil, err
	}

	return &OTelMetricsCollector{
		ctx:    ctx,
		errors: errors,
		alerts: alerts,
	}, nil
}

// RecordError records one handled error with its decision
func (o *OTelMetricsCollector) RecordError(adapter, category, severity, action string) {
	o.errors.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("adapter", adapter),
		attribute.String("category", category),
		attribute.String("severity", severity),
		attribute.String("action", action),
	))
}

// RecordAlert records one dispatched alert
func (o *OTelMetricsCollector) RecordAlert(adapter, severity string) {
	o.alerts.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("adapter", adapter),
		attribute.String("severity", severity),
	))
}
