// Package model defines the records produced by a shopwalk run.
//
// This package contains the following main types:
//   - SessionRecord: The outcome of one browsing session
//   - RunSummary: All sessions of a run with their totals
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The pipeline, driver and report packages all need these
// types, so centralizing them prevents import cycles.
//
// The models are designed to be serializable to JSON for report output.
package model
