// Package persistence provides the one concrete Persistence Store
// implementation: a pure-Go SQLite store satisfying
// coordinator.Persistence, plus a NoopStore for when no durable record is
// wanted. Every call is best-effort from the caller's point of view -
// failures are returned to the caller (who logs and moves on) but never
// panic and never corrupt the run's in-memory state.
package persistence
