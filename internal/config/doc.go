// Package config provides configuration structures and utilities for shopwalk.
// It defines the options for a run (proxy selection, request filtering,
// concurrency and report output) and the per-site file that describes where
// a session lands and how the results page is recognized.
package config
