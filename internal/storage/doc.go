// Package storage persists job definitions, run history, and the timer
// snapshot in a single embedded SQLite database (modernc.org/sqlite,
// pure Go).
//
// Writers configure a bounded busy timeout and retry briefly on lock
// contention, so read-only consumers polling the same file never wedge
// the daemon's writes.
package storage
