// Package pipeline runs the ordered steps of a browsing session.
//
// A session is processed through stages: open the landing page, navigate to
// the search results, and capture where the page ended up. Each stage is a
// Step that receives the session record and fills it in.
//
// Design decision: We use a pipeline pattern instead of direct function calls
// because:
// 1. It allows steps to be added or removed without touching the driver
// 2. It provides consistent error handling and logging across steps
// 3. It supports cancellation via context between steps
//
// The package also provides BatchProcessor, which runs many sessions
// concurrently with errgroup and a concurrency limit.
package pipeline
