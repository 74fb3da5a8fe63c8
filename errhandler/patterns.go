package errhandler

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/farescout/farescout/core"
)

// patternMessageLen is how much of the message participates in the hash;
// messages often embed ids and timestamps past this point.
const patternMessageLen = 100

// patternSuggestionMin is the occurrence count at which the background scan
// attaches suggestions.
const patternSuggestionMin = 5

// patternHash fingerprints an error by its stable shape.
func patternHash(errorType, adapter, operation, message string) string {
	if len(message) > patternMessageLen {
		message = message[:patternMessageLen]
	}
	h := xxhash.New()
	h.WriteString(errorType)
	h.WriteString("|")
	h.WriteString(adapter)
	h.WriteString("|")
	h.WriteString(operation)
	h.WriteString("|")
	h.WriteString(message)
	return fmt.Sprintf("%016x", h.Sum64())
}

// upsertPattern records an occurrence. Callers hold the handler lock.
func upsertPattern(patterns map[string]*ErrorPattern, rec *ErrorRecord, now time.Time) *ErrorPattern {
	p, ok := patterns[rec.PatternHash]
	if !ok {
		msg := rec.Message
		if len(msg) > patternMessageLen {
			msg = msg[:patternMessageLen]
		}
		p = &ErrorPattern{
			Hash:             rec.PatternHash,
			ErrorType:        rec.ErrorType,
			Adapter:          rec.Context.Adapter,
			Operation:        rec.Context.Operation,
			MessagePrefix:    msg,
			FirstSeen:        now,
			AffectedAdapters: make(map[string]struct{}),
		}
		patterns[rec.PatternHash] = p
	}
	p.Occurrences++
	p.LastSeen = now
	p.AffectedAdapters[rec.Context.Adapter] = struct{}{}
	p.SeverityTrend = append(p.SeverityTrend, rec.Severity)
	if len(p.SeverityTrend) > 50 {
		p.SeverityTrend = p.SeverityTrend[len(p.SeverityTrend)-50:]
	}
	return p
}

// suggestionRules maps message keywords to operator guidance.
var suggestionRules = []struct {
	keyword    string
	suggestion string
}{
	{"timeout", "increase operation timeouts or reduce request rate"},
	{"connection", "check network path and site availability"},
	{"captcha", "rotate user agents and lower the request rate"},
	{"rate limit", "lower requests_per_second for this site"},
	{"429", "lower requests_per_second for this site"},
	{"selector", "site markup likely changed, review extraction selectors"},
	{"parse", "site markup likely changed, review extraction selectors"},
	{"blocked", "site is refusing this client, rotate identity and back off"},
	{"memory", "check process memory limits and sampler output"},
}

// suggestFor derives suggestions from the pattern's shape. Deterministic so
// repeated scans do not churn.
func suggestFor(p *ErrorPattern) []string {
	var out []string
	seen := make(map[string]struct{})
	haystack := strings.ToLower(p.MessagePrefix + " " + p.ErrorType)
	for _, rule := range suggestionRules {
		if strings.Contains(haystack, rule.keyword) {
			if _, dup := seen[rule.suggestion]; dup {
				continue
			}
			seen[rule.suggestion] = struct{}{}
			out = append(out, rule.suggestion)
		}
	}
	if len(p.AffectedAdapters) > 1 {
		out = append(out, "multiple adapters affected, suspect shared infrastructure")
	}
	if len(out) == 0 {
		out = append(out, "recurring failure with no known remedy, needs manual review")
	}
	return out
}

// scanPatterns attaches suggestions to frequent patterns. Callers hold the
// handler lock.
func scanPatterns(patterns map[string]*ErrorPattern, logger core.Logger) int {
	updated := 0
	for _, p := range patterns {
		if p.Occurrences < patternSuggestionMin {
			continue
		}
		suggestions := suggestFor(p)
		if len(suggestions) != len(p.Suggestions) {
			p.Suggestions = suggestions
			updated++
			logger.Info("Error pattern flagged with suggestions", map[string]interface{}{
				"operation":   "pattern_scan",
				"hash":        p.Hash,
				"occurrences": p.Occurrences,
				"adapter":     p.Adapter,
				"suggestions": suggestions,
			})
		}
	}
	return updated
}
