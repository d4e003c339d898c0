package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "shopwalk"

	// DefaultProxyMode sends traffic directly, without a proxy.
	DefaultProxyMode = "none"

	// DefaultTimeout bounds one session attempt, from opening the browser to
	// capturing the results page. Storefronts behind residential proxies can
	// take tens of seconds to render.
	DefaultTimeout = 90 * time.Second

	// DefaultBatchSize of 2 concurrent sessions keeps memory bounded: every
	// session runs its own browser.
	DefaultBatchSize = 2

	// DefaultRetries is the number of extra attempts after a failed one.
	// Each retry selects a proxy again, so sequential mode moves on to the
	// next proxy.
	DefaultRetries = 1

	// DefaultProxyFileName is the proxy file name inside XDGConfigDir.
	DefaultProxyFileName = "proxies.yaml"

	// QueryPlaceholder marks where the escaped query goes in a search URL.
	QueryPlaceholder = "{query}"
)

// Config holds all configuration options for a shopwalk run.
// This struct is populated from CLI flags and the site file and passed
// through the application via dependency injection rather than global state.
//
// Design decision: A single flat struct, as the number of options is small.
// The resolved site settings live in Site so that flags and the site file
// merge in one place.
type Config struct {
	// Queries are the search terms, one session each.
	Queries []string

	// ProxyMode is none, sequential, random or a proxy ID.
	ProxyMode string

	// ProxyFile is the proxy pool file. Empty means DefaultProxyFile().
	ProxyFile string

	// Optimize enables request filtering on the landing page.
	Optimize bool

	// Headless runs the browser without a window.
	Headless bool

	// Timeout bounds a single session attempt.
	Timeout time.Duration

	// BatchSize is the number of concurrent sessions.
	BatchSize int

	// Retries is the number of extra attempts after a failure.
	Retries int

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// ConfigFilePath is the path to the site file.
	// If empty, the tool searches for .shopwalk in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// SiteName selects an entry of the site file's sites map.
	// Empty means the file's top-level settings.
	SiteName string

	// Site is the resolved site configuration.
	Site SiteConfig

	// JSONReport enables JSON report output.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport enables Markdown report output.
	// Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When set, the report is written to this file instead of stdout.
	ReportFile string
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because several defaults are non-zero (mode, headless,
// timeout, batch size).
func NewConfig() *Config {
	return &Config{
		ProxyMode: DefaultProxyMode,
		Headless:  true,
		Timeout:   DefaultTimeout,
		BatchSize: DefaultBatchSize,
		Retries:   DefaultRetries,
	}
}

// XDGConfigDir returns the XDG config directory for shopwalk.
// On Linux: ~/.config/shopwalk
// On macOS: ~/Library/Application Support/shopwalk
// On Windows: %APPDATA%\shopwalk
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for shopwalk.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// BrowserProfileDir returns the directory that holds the per-session
// Chrome profiles. Each profile is removed when its browser closes.
func BrowserProfileDir() string {
	return filepath.Join(XDGCacheDir(), "profiles")
}

// DefaultProxyFile returns the proxy file location used when --proxies is
// not given.
func DefaultProxyFile() string {
	return filepath.Join(XDGConfigDir(), DefaultProxyFileName)
}

// ResolvedProxyFile returns ProxyFile, or DefaultProxyFile() when unset.
func (c *Config) ResolvedProxyFile() string {
	if c.ProxyFile != "" {
		return c.ProxyFile
	}
	return DefaultProxyFile()
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast, before any browser starts. The first error
// found is returned.
func (c *Config) Validate() error {
	if len(c.Queries) == 0 {
		return ErrNoQuery
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.Retries < 0 {
		return ErrInvalidRetries
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	if strings.TrimSpace(c.ProxyMode) == "" {
		return ErrInvalidProxyMode
	}

	if !strings.Contains(c.Site.SearchURL, QueryPlaceholder) {
		return ErrMissingSearchURL
	}

	u, err := url.Parse(strings.ReplaceAll(c.Site.SearchURL, QueryPlaceholder, "q"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidSearchURL, c.Site.SearchURL)
	}

	for _, p := range []string{c.Site.LandingPattern, c.Site.TargetPattern} {
		if p == "" {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidPattern, p, err)
		}
	}

	return nil
}
