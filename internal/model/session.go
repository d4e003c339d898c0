package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/shopwalk/internal/filter"
	"github.com/nao1215/shopwalk/internal/proxy"
)

// SessionRecord is the outcome of one browsing session.
//
// Design decision: Like a per-target scan report, the record is a single
// flat struct that pipeline steps fill in as they run. Errors are stored as
// strings so the record serializes cleanly.
type SessionRecord struct {
	// ID uniquely identifies the session in logs and reports.
	ID string `json:"id"`

	// Query is the search term the session navigates to.
	Query string `json:"query"`

	// Proxy is the egress proxy the last attempt used, nil for direct.
	Proxy *proxy.Summary `json:"proxy,omitempty"`

	// StartedAt is when the first attempt started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall time across all attempts.
	Duration time.Duration `json:"duration"`

	// Attempts is the number of attempts made (1 without retries).
	Attempts int `json:"attempts"`

	// LandingURL is the entry page the session opened.
	LandingURL string `json:"landing_url,omitempty"`

	// SearchURL is the results page the session navigated to.
	SearchURL string `json:"search_url,omitempty"`

	// FinalURL is the page URL after the last step.
	FinalURL string `json:"final_url,omitempty"`

	// Title is the final page title.
	Title string `json:"title,omitempty"`

	// Optimized is true when a request filter was installed.
	Optimized bool `json:"optimized"`

	// Filter holds the filter tally. Zero when Optimized is false.
	Filter filter.Stats `json:"filter"`

	// Steps lists the pipeline steps performed, in order.
	Steps []string `json:"steps,omitempty"`

	// Error is the last error message, empty on success.
	Error string `json:"error,omitempty"`

	// TimedOut is true when the session was cut short by its deadline or
	// by cancellation.
	TimedOut bool `json:"timed_out"`
}

// NewSessionRecord creates a record for query with a fresh ID.
func NewSessionRecord(query string) *SessionRecord {
	return &SessionRecord{
		ID:        uuid.NewString(),
		Query:     query,
		StartedAt: time.Now(),
		Steps:     make([]string, 0),
	}
}

// Succeeded reports whether the session finished without error.
func (r *SessionRecord) Succeeded() bool {
	return r.Error == "" && !r.TimedOut
}

// SetError records err. A nil err clears the previous error.
func (r *SessionRecord) SetError(err error) {
	if err == nil {
		r.Error = ""
		return
	}
	r.Error = err.Error()
}

// ResetAttempt clears per-attempt fields before a retry.
func (r *SessionRecord) ResetAttempt() {
	r.Proxy = nil
	r.SearchURL = ""
	r.FinalURL = ""
	r.Title = ""
	r.Optimized = false
	r.Filter = filter.Stats{}
	r.Steps = r.Steps[:0]
	r.Error = ""
	r.TimedOut = false
}
