package config

import (
	"net/url"
	"regexp"
	"strings"
)

// SiteConfig describes one storefront.
type SiteConfig struct {
	// LandingURL is the entry page a session opens first. When empty, the
	// scheme and host of SearchURL are used.
	LandingURL string `yaml:"landingURL,omitempty"`

	// SearchURL is the results page template; {query} is replaced by the
	// URL-escaped search term.
	SearchURL string `yaml:"searchURL,omitempty"`

	// LandingPattern is a regular expression matching landing page URLs.
	// Any page URL it does not match counts as the target.
	LandingPattern string `yaml:"landingPattern,omitempty"`

	// TargetPattern is a regular expression matching results page URLs.
	// A match counts as the target even when LandingPattern also matches.
	TargetPattern string `yaml:"targetPattern,omitempty"`

	// ExtraTrackers are appended to the built-in tracker patterns.
	ExtraTrackers []string `yaml:"extraTrackers,omitempty"`

	// CDNDomains are appended to the built-in image CDN domains.
	CDNDomains []string `yaml:"cdnDomains,omitempty"`

	// UserAgent overrides the browser's user agent.
	UserAgent string `yaml:"userAgent,omitempty"`
}

// File represents the structure of the .shopwalk configuration file.
//
// The top-level keys describe the default site. Named entries under sites
// override them field by field and are selected with --site.
type File struct {
	// Defaults are the top-level site settings.
	Defaults SiteConfig `yaml:",inline"`

	// Sites maps a site name to its overrides.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// GetSiteConfig returns the configuration for the named site merged over
// the defaults. An empty name returns the defaults. The second result is
// false when name is not defined.
func (cf *File) GetSiteConfig(name string) (SiteConfig, bool) {
	result := cf.Defaults
	if name == "" {
		return result.withDerivedLanding(), true
	}

	site, ok := cf.Sites[name]
	if !ok {
		return result.withDerivedLanding(), false
	}

	if site.LandingURL != "" {
		result.LandingURL = site.LandingURL
	}
	if site.SearchURL != "" {
		result.SearchURL = site.SearchURL
	}
	if site.LandingPattern != "" || site.TargetPattern != "" {
		result.LandingPattern = site.LandingPattern
		result.TargetPattern = site.TargetPattern
	}
	if len(site.ExtraTrackers) > 0 {
		result.ExtraTrackers = append(append([]string(nil), result.ExtraTrackers...), site.ExtraTrackers...)
	}
	if len(site.CDNDomains) > 0 {
		result.CDNDomains = append(append([]string(nil), result.CDNDomains...), site.CDNDomains...)
	}
	if site.UserAgent != "" {
		result.UserAgent = site.UserAgent
	}

	return result.withDerivedLanding(), true
}

// withDerivedLanding fills LandingURL from SearchURL when it is empty.
func (s SiteConfig) withDerivedLanding() SiteConfig {
	if s.LandingURL != "" || s.SearchURL == "" {
		return s
	}
	u, err := url.Parse(s.SearchURL)
	if err != nil || u.Host == "" {
		return s
	}
	s.LandingURL = u.Scheme + "://" + u.Host + "/"
	return s
}

// DefaultLandingPattern returns a pattern matching LandingURL exactly,
// optionally followed by a query string. It is used when the file sets
// neither pattern.
func (s SiteConfig) DefaultLandingPattern() string {
	if s.LandingURL == "" {
		return ""
	}
	base := s.LandingURL
	if len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return "^" + regexp.QuoteMeta(base) + `/?(\?.*)?$`
}

// DefaultTargetPattern returns a pattern matching any URL that starts with
// the part of SearchURL before the {query} placeholder.
func (s SiteConfig) DefaultTargetPattern() string {
	prefix, _, found := strings.Cut(s.SearchURL, QueryPlaceholder)
	if !found || prefix == "" {
		return ""
	}
	return "^" + regexp.QuoteMeta(prefix)
}

// Patterns returns the landing and target patterns to use, falling back to
// DefaultLandingPattern and DefaultTargetPattern when both are empty.
// The target default keeps results pages served from the landing path,
// such as /?s={query}, from being classified as landing.
func (s SiteConfig) Patterns() (landing, target string) {
	if s.LandingPattern == "" && s.TargetPattern == "" {
		return s.DefaultLandingPattern(), s.DefaultTargetPattern()
	}
	return s.LandingPattern, s.TargetPattern
}
