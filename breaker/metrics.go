package breaker

// MetricsCollector receives breaker events for monitoring.
type MetricsCollector interface {
	RecordSuccess(site, scope string)
	RecordFailure(site, scope, failureType string)
	RecordStateChange(site, scope, from, to string)
	RecordRejection(site, scope string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(site, scope string)              {}
func (n *noopMetrics) RecordFailure(site, scope, failureType string) {}
func (n *noopMetrics) RecordStateChange(site, scope, from, to string) {
}
func (n *noopMetrics) RecordRejection(site, scope string) {}
