package storage

import "time"

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}
