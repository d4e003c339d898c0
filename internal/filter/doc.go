// Package filter decides, request by request, whether a browser page may load
// a resource while it is still on the retail site's landing page.
//
// A Session is created per page. It starts in StateOptimizing and blocks
// heavy or useless resources (images, fonts, media, trackers) so the landing
// page settles quickly before the search navigation. The first time it sees a
// request whose page is no longer a landing page it flips to StatePassthrough,
// logs its tally once, and from then on allows everything. The flip is
// one-way: navigating back to a landing URL does not re-enable blocking.
//
// The decision table is data (RuleSet): an ordered list of rules with a fixed
// allow fallback. The phase trigger is separate (PhaseDetector), so the same
// table can be driven by request interception or by an explicit
// navigation-commit event (Session.ObserveNavigation).
//
// Design decision: Sessions never share mutable state. A RuleSet is read-only
// after construction and may be shared by any number of Sessions running in
// parallel browser pages; counters live on the Session.
package filter
