package errhandler

// MetricsCollector receives handler events for monitoring.
type MetricsCollector interface {
	RecordError(adapter, category, severity, action string)
	RecordAlert(adapter, severity string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) RecordError(adapter, category, severity, action string) {}
func (noopMetrics) RecordAlert(adapter, severity string)                   {}
