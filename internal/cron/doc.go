// Package cron implements the job scheduling and accounting engine:
// persisted job definitions, a guard chain evaluated on every fire
// (already-running, quiet-hours, quota, enabled), subprocess execution
// with timeout classification, and a run-history audit trail.
//
// Trigger fires flow through a bounded queue into a small worker pool.
// The only overlap control is per-job: a job never runs concurrently
// with itself, but distinct jobs run independently.
package cron
