package errhandler

import "time"

// correlationWindow is how far back the handler looks for related errors.
const correlationWindow = 10 * time.Minute

// correlationThreshold is the score at which two errors are cross-linked.
const correlationThreshold = 0.8

// correlationScore measures how related two error records are. The score is
// symmetric in its inputs and clamped to 1.0. Components:
//
//	same adapter    +0.3
//	same operation  +0.2
//	same error type +0.2
//	same category   +0.1
//	within 10min    +0.2
func correlationScore(a, b *ErrorRecord) float64 {
	if a.Context == nil || b.Context == nil {
		return 0
	}

	score := 0.0
	if a.Context.Adapter == b.Context.Adapter {
		score += 0.3
	}
	if a.Context.Operation == b.Context.Operation {
		score += 0.2
	}
	if a.ErrorType == b.ErrorType {
		score += 0.2
	}
	if a.Category == b.Category {
		score += 0.1
	}

	dt := a.Context.Timestamp.Sub(b.Context.Timestamp)
	if dt < 0 {
		dt = -dt
	}
	if dt <= correlationWindow {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// correlate scans the recent history for records related to rec and
// cross-links both sides. Callers hold the handler lock.
func correlate(ring *recordRing, rec *ErrorRecord, now time.Time) {
	cutoff := now.Add(-correlationWindow)
	ring.each(func(other *ErrorRecord) bool {
		if other == rec || other.Context == nil {
			return true
		}
		if other.Context.Timestamp.Before(cutoff) {
			return true
		}
		if correlationScore(rec, other) >= correlationThreshold {
			rec.RelatedErrorIDs = append(rec.RelatedErrorIDs, other.Context.ErrorID)
			other.RelatedErrorIDs = append(other.RelatedErrorIDs, rec.Context.ErrorID)
		}
		return true
	})
}
