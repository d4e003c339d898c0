package model

import "time"

// RunSummary aggregates the sessions of one run.
type RunSummary struct {
	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the run's wall time.
	Duration time.Duration `json:"duration"`

	// Sessions are the session records in query order.
	Sessions []*SessionRecord `json:"sessions"`

	// Succeeded and Failed count sessions by outcome.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// TotalBlocked and TotalAllowed sum the filter tallies.
	TotalBlocked uint64 `json:"total_blocked"`
	TotalAllowed uint64 `json:"total_allowed"`
}

// NewRunSummary builds a summary from records. Nil records are skipped.
func NewRunSummary(startedAt time.Time, records []*SessionRecord) *RunSummary {
	s := &RunSummary{
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Sessions:  make([]*SessionRecord, 0, len(records)),
	}
	for _, r := range records {
		if r == nil {
			continue
		}
		s.Sessions = append(s.Sessions, r)
		if r.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.TotalBlocked += r.Filter.Blocked
		s.TotalAllowed += r.Filter.Allowed
	}
	return s
}

// BlockedRatio returns the share of filtered requests that were blocked,
// between 0 and 1.
func (s *RunSummary) BlockedRatio() float64 {
	total := s.TotalBlocked + s.TotalAllowed
	if total == 0 {
		return 0
	}
	return float64(s.TotalBlocked) / float64(total)
}

// HasFailures reports whether any session failed.
func (s *RunSummary) HasFailures() bool {
	return s.Failed > 0
}
