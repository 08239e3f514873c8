package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tempod/internal/cron"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const yamlConfig = `
logging:
  level: debug
  console: true
storage:
  path: ./tempod.db
timezone: Europe/Berlin
engine:
  workers: 2
timer:
  reset_hour: 9
  lock_duration: 20m
jobs:
  - name: backup
    schedule:
      type: cron
      value: "0 3 * * *"
      tz: Europe/Berlin
    command: "/usr/local/bin/backup.sh"
    quiet_hours: [22, 8]
    max_runs_per_window: 1
  - name: heartbeat
    schedule:
      type: interval
      value: 5m
    command: "curl -fsS https://example.invalid/ping"
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Timezone != "Europe/Berlin" || cfg.Engine.Workers != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[0].Name != "backup" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if cfg.Jobs[0].MaxRunsPerWindow == nil || *cfg.Jobs[0].MaxRunsPerWindow != 1 {
		t.Fatalf("quota = %v", cfg.Jobs[0].MaxRunsPerWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() should return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	body := `{
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"storage": {"path": "/tmp/tempod.db"},
		"jobs": [{"name": "j", "schedule": {"type": "interval", "value": "1m"}, "command": "true"}]
	}`
	m := NewManager(writeConfig(t, "config.json", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Path != "/tmp/tempod.db" || len(cfg.Jobs) != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	body := `
logging:
  level: info
storage:
  path: ./db
legacy_option: true
`
	m := NewManager(writeConfig(t, "config.yaml", body))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown field rejection", err)
	}
}

func TestValidateCatchesBadInput(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Storage: StorageConfig{Path: "./db"}}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing storage path", func(c *Config) { c.Storage.Path = " " }, "storage.path"},
		{"bad timezone", func(c *Config) { c.Timezone = "Nowhere/Void" }, "timezone"},
		{"bad timer duration", func(c *Config) { c.Timer.LockDuration = "twenty" }, "timer.lock_duration"},
		{"reset hour out of range", func(c *Config) { h := 24; c.Timer.ResetHour = &h }, "reset_hour"},
		{"notifier without token", func(c *Config) { c.Notifier = &NotifierConfig{Enabled: true} }, "token"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidateRejectsDuplicateJobNames(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", `
storage:
  path: ./db
jobs:
  - name: twin
    schedule: {type: interval, value: 1m}
    command: "true"
  - name: twin
    schedule: {type: interval, value: 2m}
    command: "true"
`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate name rejection", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{Path: "./a.db"},
	}
	next := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Storage: StorageConfig{Path: "./a.db"},
	}
	changed, _ := SummarizeConfigChange(old, next)
	if len(changed) != 1 || changed[0] != "logging" {
		t.Fatalf("changed = %v, want [logging]", changed)
	}

	if changed, _ := SummarizeConfigChange(old, old); len(changed) != 0 {
		t.Fatalf("changed = %v, want none for identical configs", changed)
	}

	withJob := *old
	withJob.Jobs = []cron.JobConfig{{Name: "n"}}
	if !JobsChanged(old, &withJob) {
		t.Fatal("JobsChanged should report added job")
	}
	if JobsChanged(old, old) {
		t.Fatal("JobsChanged reported a change for identical configs")
	}
}
