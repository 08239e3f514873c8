package config

import (
	"fmt"
	"strings"
	"time"

	"tempod/internal/cron"
)

// Config is the whole config file. YAML and JSON are both accepted;
// YAML is coerced to JSON so one strict decoder covers both.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Timezone string         `json:"timezone,omitempty"`
	Engine   EngineConfig   `json:"engine,omitempty"`
	Timer    TimerConfig    `json:"timer,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Jobs []cron.JobConfig `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the SQLite persistence layer.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EngineConfig controls the job execution pipeline.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// TimerConfig controls the work/break accounting engine.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1s"
//   - idle_gap: "10m"
//   - idle_timeout: "15m"
//   - lock_duration: "20m"
//   - reset_hour: 9
//   - break_seed: "5m"
//   - persist_interval: "30s"
type TimerConfig struct {
	TickInterval    string `json:"tick_interval,omitempty"`
	IdleGap         string `json:"idle_gap,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	LockDuration    string `json:"lock_duration,omitempty"`
	ResetHour       *int   `json:"reset_hour,omitempty"`
	BreakSeed       string `json:"break_seed,omitempty"`
	PersistInterval string `json:"persist_interval,omitempty"`
}

// NotifierConfig controls the async notification pipeline. If the whole
// section is omitted the notifier stays off.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Telegram   *TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig is the Telegram delivery channel. Token is never logged.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// Validate checks everything that can be checked without touching the
// filesystem: durations parse, hours are in range, job definitions are
// well formed. It is used as the reload validator, so a bad edit never
// reaches running services.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"timer.tick_interval", c.Timer.TickInterval},
		{"timer.idle_gap", c.Timer.IdleGap},
		{"timer.idle_timeout", c.Timer.IdleTimeout},
		{"timer.lock_duration", c.Timer.LockDuration},
		{"timer.break_seed", c.Timer.BreakSeed},
		{"timer.persist_interval", c.Timer.PersistInterval},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Timer.ResetHour != nil && (*c.Timer.ResetHour < 1 || *c.Timer.ResetHour > 23) {
		return fmt.Errorf("timer.reset_hour must be 1..23, got %d", *c.Timer.ResetHour)
	}
	if c.Notifier != nil && c.Notifier.Enabled {
		if c.Notifier.Telegram == nil || strings.TrimSpace(c.Notifier.Telegram.Token) == "" {
			return fmt.Errorf("notifier.telegram.token is required when the notifier is enabled")
		}
		if _, err := ParseDurationField("notifier.telegram.poll_timeout", c.Notifier.Telegram.PollTimeout); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for i, def := range c.Jobs {
		j, err := def.Job()
		if err != nil {
			return fmt.Errorf("jobs[%d]: %w", i, err)
		}
		if seen[j.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job name %q", i, j.Name)
		}
		seen[j.Name] = true
	}
	return nil
}
