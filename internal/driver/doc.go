// Package driver runs one browsing session end to end: it selects a proxy,
// opens a browser page, installs the request filter when optimization is
// on, walks the pipeline steps and retries failed attempts.
package driver
