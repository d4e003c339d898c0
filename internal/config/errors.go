package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoQuery is returned when no search query is given.
	ErrNoQuery = errors.New("no query specified: provide at least one search term")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	// A zero timeout would cancel every session before its first navigation.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidRetries is returned when the retry count is negative.
	// Use 0 to make a single attempt per query.
	ErrInvalidRetries = errors.New("invalid retries: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidProxyMode is returned when the proxy mode is empty.
	// Any non-empty value is accepted: unknown values are treated as proxy IDs.
	ErrInvalidProxyMode = errors.New("invalid proxy mode: use none, sequential, random or a proxy id")

	// ErrMissingSearchURL is returned when the site has no search URL
	// template or the template lacks the {query} placeholder.
	ErrMissingSearchURL = errors.New("missing search URL: set searchURL with a {query} placeholder in the site file")

	// ErrInvalidSearchURL is returned when the search URL template is not an
	// absolute http or https URL.
	ErrInvalidSearchURL = errors.New("invalid search URL: use an absolute http or https URL")

	// ErrInvalidPattern is returned when a landing or target pattern does
	// not compile.
	ErrInvalidPattern = errors.New("invalid page pattern")

	// ErrUnknownSite is returned when --site names a site the file does not
	// define.
	ErrUnknownSite = errors.New("unknown site")
)
