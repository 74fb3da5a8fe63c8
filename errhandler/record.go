package errhandler

import (
	"time"

	"github.com/farescout/farescout/core"
)

// Resolution tracks whether and how an error was eventually resolved.
type Resolution struct {
	Resolved bool   `json:"resolved"`
	Method   string `json:"method,omitempty"`
}

// ErrorRecord is one handled failure: the error context plus the handler's
// classification and what was done about it.
type ErrorRecord struct {
	Context         *core.ErrorContext  `json:"context"`
	Category        core.Category       `json:"category"`
	Severity        core.Severity       `json:"severity"`
	Message         string              `json:"message"`
	ErrorType       string              `json:"error_type"`
	ActionTaken     core.RecoveryAction `json:"action_taken"`
	Resolution      Resolution          `json:"resolution"`
	RelatedErrorIDs []string            `json:"related_error_ids,omitempty"`
	PatternHash     string              `json:"pattern_hash"`
}

// ErrorPattern aggregates recurring failures with the same shape.
type ErrorPattern struct {
	Hash             string              `json:"hash"`
	ErrorType        string              `json:"error_type"`
	Adapter          string              `json:"adapter"`
	Operation        string              `json:"operation"`
	MessagePrefix    string              `json:"message_prefix"`
	Occurrences      int                 `json:"occurrences"`
	FirstSeen        time.Time           `json:"first_seen"`
	LastSeen         time.Time           `json:"last_seen"`
	AffectedAdapters map[string]struct{} `json:"-"`
	SeverityTrend    []core.Severity     `json:"severity_trend"`
	Suggestions      []string            `json:"suggestions,omitempty"`
}

// recordRing is the bounded error history. Once full, new records overwrite
// the oldest. Callers hold the handler lock.
type recordRing struct {
	records []*ErrorRecord
	next    int
	full    bool
}

func newRecordRing(capacity int) *recordRing {
	return &recordRing{records: make([]*ErrorRecord, capacity)}
}

func (r *recordRing) add(rec *ErrorRecord) {
	r.records[r.next] = rec
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.full = true
	}
}

// size returns the number of stored records.
func (r *recordRing) size() int {
	if r.full {
		return len(r.records)
	}
	return r.next
}

// each visits records oldest-first.
func (r *recordRing) each(fn func(*ErrorRecord) bool) {
	start := 0
	count := r.next
	if r.full {
		start = r.next
		count = len(r.records)
	}
	for i := 0; i < count; i++ {
		rec := r.records[(start+i)%len(r.records)]
		if rec == nil {
			continue
		}
		if !fn(rec) {
			return
		}
	}
}

// evictOlderThan drops records whose context timestamp is before the cutoff
// by compacting the ring.
func (r *recordRing) evictOlderThan(cutoff time.Time) int {
	kept := make([]*ErrorRecord, 0, r.size())
	evicted := 0
	r.each(func(rec *ErrorRecord) bool {
		if rec.Context != nil && rec.Context.Timestamp.Before(cutoff) {
			evicted++
			return true
		}
		kept = append(kept, rec)
		return true
	})
	if evicted == 0 {
		return 0
	}

	for i := range r.records {
		r.records[i] = nil
	}
	r.next = 0
	r.full = false
	for _, rec := range kept {
		r.add(rec)
	}
	return evicted
}
