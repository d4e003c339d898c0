package filter

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

// Default logging limits.
const (
	// DefaultBlockLogLimit is how many block decisions are logged one by one.
	DefaultBlockLogLimit = 5

	// DefaultURLLogLength is the maximum URL length in block log lines.
	DefaultURLLogLength = 100
)

// Request is one intercepted request as supplied by the browser engine.
//
// The engine must accept exactly one call to either Continue or Abort per
// request; Session.Handle guarantees it makes exactly one of them.
type Request interface {
	// URL is the request's target URL.
	URL() string

	// Kind is the engine's resource classification.
	Kind() ResourceKind

	// PageURL is the URL of the page that issued the request.
	PageURL() string

	// Continue lets the request proceed unmodified.
	Continue() error

	// Abort fails the request.
	Abort() error
}

// Stats is a snapshot of a Session's bookkeeping.
type Stats struct {
	State   State             `json:"state"`
	Phase   Phase             `json:"phase"`
	Blocked uint64            `json:"blocked"`
	Allowed uint64            `json:"allowed"`
	ByRule  map[string]uint64 `json:"by_rule,omitempty"`
}

// Total returns the number of decisions made.
func (s Stats) Total() uint64 {
	return s.Blocked + s.Allowed
}

// Session is the per-page filter state.
//
// Requests are expected one at a time in engine delivery order, but the
// Session locks internally so a misbehaving engine cannot corrupt counters.
type Session struct {
	mu sync.Mutex

	state   State
	phase   Phase
	blocked uint64
	allowed uint64
	byRule  map[string]uint64

	// loggedBlocks counts block decisions logged individually so far.
	loggedBlocks int

	// firstCommit is the first page committed, used without a detector.
	firstCommit string

	rules         *RuleSet
	detector      PhaseDetector
	logger        *slog.Logger
	blockLogLimit int
	urlLogLength  int
}

// Option configures a Session.
type Option func(*Session)

// WithRules sets the decision table. Defaults to DefaultRules(RuleOptions{}).
func WithRules(rules *RuleSet) Option {
	return func(s *Session) {
		s.rules = rules
	}
}

// WithDetector sets the phase detector. Without one, request page URLs are
// never classified and the Session leaves StateOptimizing only through
// ObserveNavigation, on the first commit of a page other than the first
// committed (landing) page.
func WithDetector(d PhaseDetector) Option {
	return func(s *Session) {
		s.detector = d
	}
}

// WithLogger sets the logger for block and tally lines.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithBlockLogLimit sets how many block decisions are logged individually.
func WithBlockLogLimit(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.blockLogLimit = n
		}
	}
}

// NewSession creates a Session in StateOptimizing.
//
// A Session is only created when optimization was requested; a page without
// one is implicitly in passthrough with no bookkeeping at all.
func NewSession(opts ...Option) *Session {
	s := &Session{
		state:         StateOptimizing,
		phase:         PhaseLanding,
		byRule:        make(map[string]uint64),
		blockLogLimit: DefaultBlockLogLimit,
		urlLogLength:  DefaultURLLogLength,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.rules == nil {
		s.rules = DefaultRules(RuleOptions{})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Handle decides req and resolves it exactly once.
// Resolution errors are logged and never returned to the engine.
func (s *Session) Handle(req Request) Verdict {
	d := s.Decide(req.URL(), req.Kind(), req.PageURL())

	var err error
	if d.Verdict == Block {
		err = req.Abort()
	} else {
		err = req.Continue()
	}
	if err != nil {
		s.logger.Debug("failed to resolve intercepted request",
			"verdict", d.Verdict.String(),
			"url", truncate(req.URL(), s.urlLogLength),
			"error", err,
		)
	}

	return d.Verdict
}

// Decide classifies a request and updates the counters without resolving it.
// The page URL drives the phase transition: if it is no longer a landing
// page, the Session flips to passthrough and this request is allowed.
func (s *Session) Decide(rawURL string, kind ResourceKind, pageURL string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateOptimizing && s.detector != nil && s.detector.Detect(pageURL) == PhaseTarget {
		s.transitionLocked(pageURL)
	}

	var d Decision
	if s.state == StatePassthrough {
		d = Decision{Verdict: Allow, Rule: RulePassthrough}
	} else {
		d = s.rules.Decide(rawURL, kind)
	}

	s.byRule[d.Rule]++
	if d.Verdict == Block {
		s.blocked++
		if s.loggedBlocks < s.blockLogLimit {
			s.loggedBlocks++
			s.logger.Info("blocked request",
				"n", s.loggedBlocks,
				"rule", d.Rule,
				"kind", kind.String(),
				"url", truncate(rawURL, s.urlLogLength),
			)
		}
	} else {
		s.allowed++
	}

	return d
}

// ObserveNavigation is the explicit navigation-commit trigger. It reports
// whether this call performed the transition to passthrough.
func (s *Session) ObserveNavigation(pageURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOptimizing {
		return false
	}
	if s.detector != nil {
		if s.detector.Detect(pageURL) != PhaseTarget {
			return false
		}
	} else {
		if pageURL == "" || strings.HasPrefix(pageURL, "about:") {
			return false
		}
		if s.firstCommit == "" {
			s.firstCommit = pageURL
		}
		if pageURL == s.firstCommit {
			return false
		}
	}
	s.transitionLocked(pageURL)
	return true
}

// transitionLocked performs the one-shot flip. Callers hold s.mu and have
// checked that the state is StateOptimizing.
func (s *Session) transitionLocked(pageURL string) {
	s.state = StatePassthrough
	s.phase = PhaseTarget
	s.logger.Info("left landing page, request filtering disabled",
		"page", truncate(pageURL, s.urlLogLength),
		"blocked", s.blocked,
		"allowed", s.allowed,
	)
}

// Active reports whether the Session still blocks requests.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOptimizing
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRule := make(map[string]uint64, len(s.byRule))
	for k, v := range s.byRule {
		byRule[k] = v
	}
	return Stats{
		State:   s.state,
		Phase:   s.phase,
		Blocked: s.blocked,
		Allowed: s.allowed,
		ByRule:  byRule,
	}
}

// truncate shortens s to at most n bytes, marking the cut with "...".
// The cut never splits a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
