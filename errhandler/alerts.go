package errhandler

import (
	"context"
	"time"

	"github.com/farescout/farescout/core"
)

// Alert is the payload sent to sinks for critical and emergency errors.
type Alert struct {
	ErrorID   string        `json:"error_id"`
	Adapter   string        `json:"adapter"`
	Operation string        `json:"operation"`
	Category  core.Category `json:"category"`
	Severity  core.Severity `json:"severity"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// AlertSink receives alerts. Sends are fire-and-forget: a failing sink is
// logged, never propagated to the crawl path.
type AlertSink interface {
	Send(ctx context.Context, alert Alert) error
}

// LogAlertSink writes alerts to the structured log, the default sink when
// no external notification transport is wired.
type LogAlertSink struct {
	Logger core.Logger
}

// Send logs the alert
func (s *LogAlertSink) Send(ctx context.Context, alert Alert) error {
	logger := s.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	logger.Error("ALERT: "+alert.Message, map[string]interface{}{
		"operation": "alert",
		"error_id":  alert.ErrorID,
		"adapter":   alert.Adapter,
		"severity":  alert.Severity.String(),
		"category":  string(alert.Category),
	})
	return nil
}
