package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func testLogger(format string) (*ProductionLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewProductionLogger(LoggingConfig{Level: "debug", Format: format}, "test")
	l.output = &buf
	return l, &buf
}

func TestProductionLoggerJSON(t *testing.T) {
	l, buf := testLogger("json")

	l.Info("request admitted", map[string]interface{}{
		"operation": "can_make_request",
		"site":      "flytoday",
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["message"] != "request admitted" {
		t.Errorf("unexpected message: %v", entry["message"])
	}
	if entry["component"] != "test" || entry["site"] != "flytoday" {
		t.Errorf("unexpected fields: %v", entry)
	}
	if entry["level"] != "INFO" {
		t.Errorf("unexpected level: %v", entry["level"])
	}
}

func TestProductionLoggerTextStableOrder(t *testing.T) {
	l, buf := testLogger("text")

	l.Info("msg", map[string]interface{}{"b": 2, "a": 1, "c": 3})
	line := buf.String()

	if strings.Index(line, "a=1") > strings.Index(line, "b=2") ||
		strings.Index(line, "b=2") > strings.Index(line, "c=3") {
		t.Errorf("text fields not in stable key order: %s", line)
	}
}

func TestProductionLoggerDebugGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewProductionLogger(LoggingConfig{Level: "info", Format: "text"}, "test")
	l.output = &buf

	l.Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Errorf("debug output should be suppressed at info level: %s", buf.String())
	}
}

func TestErrorRateLimiting(t *testing.T) {
	l, buf := testLogger("text")
	l.errorLimiter = NewLogRateLimiter(time.Hour)

	for i := 0; i < 10; i++ {
		l.Error("failure storm", nil)
	}

	if got := strings.Count(buf.String(), "failure storm"); got != 1 {
		t.Errorf("expected 1 error line through the limiter, got %d", got)
	}
}

func TestWithComponent(t *testing.T) {
	l, buf := testLogger("json")
	child := l.WithComponent("ratelimit")

	child.Info("ready", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["component"] != "ratelimit" {
		t.Errorf("expected child component, got %v", entry["component"])
	}
}
