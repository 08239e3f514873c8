// Package timer implements the work/break time-accounting state machine.
//
// The engine is pure: it performs no I/O, holds no locks, and never reads
// the wall clock itself. Every entry point takes the caller's notion of
// "now", which makes the accounting fully deterministic under test.
// Callers needing concurrent access must serialize calls externally
// (one owning goroutine per user/session).
//
// All accounting is integer milliseconds. Rates are signed rationals
// applied with integer division, so repeated sub-second ticks never drift.
package timer
