package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// State is the filter's lifecycle state.
type State int

const (
	// StateOptimizing blocks non-essential requests on the landing page.
	StateOptimizing State = iota

	// StatePassthrough allows everything. It is terminal.
	StatePassthrough
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOptimizing:
		return "optimizing"
	case StatePassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "optimizing":
		*s = StateOptimizing
	case "passthrough":
		*s = StatePassthrough
	default:
		return fmt.Errorf("unknown filter state %q", text)
	}
	return nil
}

// Phase is the navigation phase of the page a request belongs to.
type Phase int

const (
	// PhaseLanding is the site's entry page before a search.
	PhaseLanding Phase = iota

	// PhaseTarget is any page past the landing page, typically search results.
	PhaseTarget
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseLanding:
		return "landing"
	case PhaseTarget:
		return "target"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON reports.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "landing":
		*p = PhaseLanding
	case "target":
		*p = PhaseTarget
	default:
		return fmt.Errorf("unknown navigation phase %q", text)
	}
	return nil
}

// PhaseDetector classifies a page URL into a navigation phase.
// Implementations must be safe for concurrent use.
type PhaseDetector interface {
	Detect(pageURL string) Phase
}

// ErrNoPattern is returned when a PatternDetector gets neither pattern.
var ErrNoPattern = errors.New("phase detector needs a landing or a target pattern")

// PatternDetector detects the phase from regular expressions.
//
// A URL matching the target pattern is PhaseTarget. Otherwise, with a
// landing pattern, any page URL that does not match it is PhaseTarget, and
// without one the URL is PhaseLanding.
// Empty URLs and about: pages carry no navigation information and are
// always PhaseLanding.
type PatternDetector struct {
	landing *regexp.Regexp
	target  *regexp.Regexp
}

// NewPatternDetector compiles the landing and target patterns.
// Either may be empty, but not both.
func NewPatternDetector(landing, target string) (*PatternDetector, error) {
	if landing == "" && target == "" {
		return nil, ErrNoPattern
	}

	d := &PatternDetector{}
	if landing != "" {
		re, err := regexp.Compile(landing)
		if err != nil {
			return nil, fmt.Errorf("invalid landing pattern: %w", err)
		}
		d.landing = re
	}
	if target != "" {
		re, err := regexp.Compile(target)
		if err != nil {
			return nil, fmt.Errorf("invalid target pattern: %w", err)
		}
		d.target = re
	}
	return d, nil
}

// Detect implements PhaseDetector.
func (d *PatternDetector) Detect(pageURL string) Phase {
	if pageURL == "" || strings.HasPrefix(pageURL, "about:") {
		return PhaseLanding
	}

	if d.target != nil && d.target.MatchString(pageURL) {
		return PhaseTarget
	}
	if d.landing != nil && !d.landing.MatchString(pageURL) {
		return PhaseTarget
	}
	return PhaseLanding
}

// DetectorFunc adapts a function to PhaseDetector.
type DetectorFunc func(pageURL string) Phase

// Detect implements PhaseDetector.
func (f DetectorFunc) Detect(pageURL string) Phase {
	return f(pageURL)
}
