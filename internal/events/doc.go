// Package events implements the unified, replayable event stream that the
// Run Coordinator uses to report progress and agent activity to callers.
//
// A Bus holds, per run ID, an append-only history plus a set of live
// subscribers. Publish is synchronous with respect to both the history
// append and subscriber fan-out; persistence (when configured) happens on
// a separate goroutine so a slow store never delays delivery. Subscriber
// sends are non-blocking: a subscriber that can't keep up has events
// silently dropped for it rather than stalling the publisher, matching
// the event bus's "never block a writer on a slow subscriber" contract.
package events
