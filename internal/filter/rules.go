package filter

import (
	"net/url"
	"path"
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
	"golang.org/x/net/publicsuffix"
)

// Verdict is the outcome for a single request.
type Verdict int

const (
	// Allow lets the request continue unmodified.
	Allow Verdict = iota

	// Block aborts the request.
	Block
)

// String returns the verdict name.
func (v Verdict) String() string {
	if v == Block {
		return "block"
	}
	return "allow"
}

// Rule names reported in Decision.Rule and Stats.ByRule.
const (
	RuleEssentialKind  = "essential-kind"
	RuleBlockedKind    = "blocked-kind"
	RuleTracker        = "tracker"
	RuleCDNImage       = "cdn-image"
	RuleImageExtension = "image-extension"
	RuleDefault        = "default"
	RulePassthrough    = "passthrough"
)

// Default rule data.
var (
	// EssentialKinds are always required for the page to work.
	EssentialKinds = []ResourceKind{KindDocument, KindScript, KindStylesheet, KindXHR, KindFetch}

	// BlockedKinds are never needed to reach the search form.
	BlockedKinds = []ResourceKind{KindImage, KindMedia, KindFont, KindWebSocket, KindManifest}

	// TrackerPatterns are substrings of advertising, analytics and tracking
	// URLs. They are matched case-insensitively against the host and path
	// only, so a query such as ?item=google-pixel-8 never matches.
	TrackerPatterns = []string{
		"google-analytics",
		"googletagmanager",
		"googlesyndication",
		"googleadservices",
		"doubleclick",
		"adservice.google",
		"amazon-adsystem",
		"facebook.net",
		"connect.facebook",
		"criteo",
		"taboola",
		"outbrain",
		"hotjar",
		"scorecardresearch",
		"adnxs",
		"bat.bing",
		"clarity.ms",
		"analytics",
		"tracking",
		"pixel",
		"beacon",
	}

	// CDNDomains are image-serving CDN domains. A host matches when it equals
	// an entry or is a subdomain of it.
	CDNDomains = []string{
		"cloudfront.net",
		"akamaized.net",
		"akamaihd.net",
		"fastly.net",
		"cloudinary.com",
		"imgix.net",
		"scene7.com",
		"ssl-images-amazon.com",
		"media-amazon.com",
	}

	// ImageExtensions are path extensions treated as images.
	ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif", ".bmp"}
)

// Input is a request as seen by the rules. The URL is parsed once.
type Input struct {
	// RawURL is the request URL as delivered by the engine.
	RawURL string

	// Kind is the engine's resource classification.
	Kind ResourceKind

	// URL is the parsed request URL, nil when RawURL does not parse.
	URL *url.URL
}

// NewInput builds an Input, parsing rawURL. A URL that fails to parse, or
// parses without a host, leaves URL nil so that URL rules do not match.
func NewInput(rawURL string, kind ResourceKind) *Input {
	in := &Input{RawURL: rawURL, Kind: kind}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		in.URL = u
	}
	return in
}

// Rule is one row of the decision table.
type Rule interface {
	// Name identifies the rule in decisions and stats.
	Name() string

	// Evaluate returns the verdict and true when the rule applies.
	Evaluate(in *Input) (Verdict, bool)
}

// KindRule applies a fixed verdict to a set of resource kinds.
type KindRule struct {
	name    string
	kinds   map[ResourceKind]struct{}
	verdict Verdict
}

// NewKindRule creates a KindRule.
func NewKindRule(name string, verdict Verdict, kinds ...ResourceKind) *KindRule {
	set := make(map[ResourceKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return &KindRule{name: name, kinds: set, verdict: verdict}
}

// Name implements Rule.
func (r *KindRule) Name() string { return r.name }

// Evaluate implements Rule.
func (r *KindRule) Evaluate(in *Input) (Verdict, bool) {
	if _, ok := r.kinds[in.Kind]; ok {
		return r.verdict, true
	}
	return Allow, false
}

// TrackerRule blocks URLs whose host or path contains any pattern.
//
// Design decision: We use an Aho-Corasick automaton instead of looping over
// strings.Contains because the pattern list grows with the site file and
// every intercepted request is matched against all of it in a single pass.
type TrackerRule struct {
	trie     *ahocorasick.Trie
	patterns []string
}

// NewTrackerRule builds the automaton from patterns (lower-cased, empty
// entries dropped).
func NewTrackerRule(patterns []string) *TrackerRule {
	clean := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			clean = append(clean, p)
		}
	}
	r := &TrackerRule{patterns: clean}
	if len(clean) > 0 {
		r.trie = ahocorasick.NewTrieBuilder().AddStrings(clean).Build()
	}
	return r
}

// Name implements Rule.
func (r *TrackerRule) Name() string { return RuleTracker }

// Evaluate implements Rule.
func (r *TrackerRule) Evaluate(in *Input) (Verdict, bool) {
	if r.trie == nil || in.URL == nil {
		return Allow, false
	}
	if len(r.trie.MatchString(strings.ToLower(in.URL.Host+in.URL.Path))) > 0 {
		return Block, true
	}
	return Allow, false
}

// Patterns returns the normalized pattern list.
func (r *TrackerRule) Patterns() []string {
	return append([]string(nil), r.patterns...)
}

// CDNImageRule blocks images served from a known CDN domain.
type CDNImageRule struct {
	domains map[string]struct{}
}

// NewCDNImageRule creates a CDNImageRule. Entries that are themselves ICANN
// public suffixes (such as "com") are ignored, since they would match every
// site under that suffix.
func NewCDNImageRule(domains []string) *CDNImageRule {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d == "" {
			continue
		}
		if suffix, icann := publicsuffix.PublicSuffix(d); icann && suffix == d {
			continue
		}
		set[d] = struct{}{}
	}
	return &CDNImageRule{domains: set}
}

// Name implements Rule.
func (r *CDNImageRule) Name() string { return RuleCDNImage }

// Evaluate implements Rule.
func (r *CDNImageRule) Evaluate(in *Input) (Verdict, bool) {
	if in.Kind != KindImage || in.URL == nil {
		return Allow, false
	}
	if r.matchHost(in.URL.Hostname()) {
		return Block, true
	}
	return Allow, false
}

// matchHost reports whether host or one of its parent domains is listed.
func (r *CDNImageRule) matchHost(host string) bool {
	host = strings.Trim(strings.ToLower(host), ".")
	for host != "" {
		if _, ok := r.domains[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
	return false
}

// ExtensionRule blocks URLs whose path ends in one of the extensions.
// Query strings and fragments are ignored; matching is case-insensitive.
type ExtensionRule struct {
	exts map[string]struct{}
}

// NewExtensionRule creates an ExtensionRule. Extensions may omit the dot.
func NewExtensionRule(exts []string) *ExtensionRule {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return &ExtensionRule{exts: set}
}

// Name implements Rule.
func (r *ExtensionRule) Name() string { return RuleImageExtension }

// Evaluate implements Rule.
func (r *ExtensionRule) Evaluate(in *Input) (Verdict, bool) {
	if in.URL == nil {
		return Allow, false
	}
	if _, ok := r.exts[strings.ToLower(path.Ext(in.URL.Path))]; ok {
		return Block, true
	}
	return Allow, false
}

// Decision is the result of running the rule set.
type Decision struct {
	Verdict Verdict
	Rule    string
}

// RuleSet is an ordered decision table with a fixed allow fallback.
// It is read-only after construction and safe for concurrent use.
type RuleSet struct {
	rules []Rule
}

// RuleOptions extends the default tables.
type RuleOptions struct {
	// ExtraTrackers are appended to TrackerPatterns.
	ExtraTrackers []string

	// ExtraCDNDomains are appended to CDNDomains.
	ExtraCDNDomains []string
}

// NewRuleSet creates a RuleSet from explicit rules, evaluated in order.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// DefaultRules returns the standard landing-page table:
// essential kinds, blocked kinds, trackers, CDN images, image extensions.
func DefaultRules(opts RuleOptions) *RuleSet {
	trackers := append(append([]string(nil), TrackerPatterns...), opts.ExtraTrackers...)
	cdns := append(append([]string(nil), CDNDomains...), opts.ExtraCDNDomains...)

	return NewRuleSet(
		NewKindRule(RuleEssentialKind, Allow, EssentialKinds...),
		NewKindRule(RuleBlockedKind, Block, BlockedKinds...),
		NewTrackerRule(trackers),
		NewCDNImageRule(cdns),
		NewExtensionRule(ImageExtensions),
	)
}

// Decide runs the rules in order. The first applicable rule wins; when none
// applies the request is allowed.
func (rs *RuleSet) Decide(rawURL string, kind ResourceKind) Decision {
	in := NewInput(rawURL, kind)
	for _, r := range rs.rules {
		if v, ok := r.Evaluate(in); ok {
			return Decision{Verdict: v, Rule: r.Name()}
		}
	}
	return Decision{Verdict: Allow, Rule: RuleDefault}
}

// RuleNames returns the rule names in evaluation order.
func (rs *RuleSet) RuleNames() []string {
	names := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		names[i] = r.Name()
	}
	return names
}
