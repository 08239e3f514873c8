package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	robcron "github.com/robfig/cron/v3"
)

// reInterval matches the config interval syntax: integer + unit suffix.
var reInterval = regexp.MustCompile(`^(\d+)([smhd])$`)

// cronParser validates 5-field expressions (minute hour dom month dow).
var cronParser = robcron.NewParser(
	robcron.Minute | robcron.Hour | robcron.Dom | robcron.Month | robcron.Dow,
)

// ParseInterval parses the interval value syntax ("30s", "5m", "2h", "1d").
// Anything else is a hard configuration error.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	m := reInterval.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q (use <int><s|m|h|d>, e.g. \"30s\", \"2h\")", raw)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q: value must be a positive integer", raw)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval unit in %q", raw)
}

// ValidateCronExpr requires exactly 5 whitespace-separated fields and a
// parseable expression.
func ValidateCronExpr(expr string) error {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return fmt.Errorf("cron expression %q has %d fields, want 5 (minute hour day month day-of-week)", expr, len(fields))
	}
	if _, err := cronParser.Parse(strings.Join(fields, " ")); err != nil {
		return fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return nil
}

// Validate checks the schedule union is well-formed.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleInterval:
		if s.Every <= 0 {
			return fmt.Errorf("interval schedule requires a positive duration")
		}
		return nil
	case ScheduleCron:
		if err := ValidateCronExpr(s.Expr); err != nil {
			return err
		}
		if tz := strings.TrimSpace(s.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("schedule timezone %q: %w", tz, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// location resolves the schedule's timezone, falling back to def and
// then to the process-local zone.
func (s Schedule) location(def string) *time.Location {
	for _, tz := range []string{strings.TrimSpace(s.Timezone), strings.TrimSpace(def)} {
		if tz == "" {
			continue
		}
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

// trigger converts the schedule into a robfig/cron recurring-fire spec.
// Intervals become a constant-delay schedule; cron expressions are
// bound to the job's timezone via a CRON_TZ prefix.
func (s Schedule) trigger() (robcron.Schedule, string, error) {
	switch s.Kind {
	case ScheduleInterval:
		if s.Every <= 0 {
			return nil, "", fmt.Errorf("interval schedule requires a positive duration")
		}
		return robcron.Every(s.Every), "", nil
	case ScheduleCron:
		spec := strings.TrimSpace(s.Expr)
		if tz := strings.TrimSpace(s.Timezone); tz != "" {
			spec = "CRON_TZ=" + tz + " " + spec
		}
		return nil, spec, nil
	default:
		return nil, "", fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// ---- Config-load shapes ----

// ScheduleConfig is the raw schedule record from the config file.
type ScheduleConfig struct {
	Type  string `json:"type"` // "interval" | "cron"
	Value string `json:"value"`
	TZ    string `json:"tz,omitempty"`
}

// JobConfig is one job definition record from the config file.
// Enabled defaults to true when omitted.
type JobConfig struct {
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Enabled          *bool          `json:"enabled,omitempty"`
	Schedule         ScheduleConfig `json:"schedule"`
	Command          string         `json:"command"`
	TimeoutSeconds   int            `json:"timeout_seconds,omitempty"`
	QuietHours       []int          `json:"quiet_hours,omitempty"` // [start, end]
	MaxRunsPerWindow *int           `json:"max_runs_per_window,omitempty"`
	RunWindowHours   int            `json:"run_window_hours,omitempty"`
	SessionType      string         `json:"session_type,omitempty"`
}

// Job parses and validates the raw record into a Job. All validation
// happens here, at the config boundary; guard and execution logic only
// ever see typed values.
func (c JobConfig) Job() (Job, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return Job{}, fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(c.Command) == "" {
		return Job{}, fmt.Errorf("job %q: command is required", name)
	}

	var sched Schedule
	switch strings.ToLower(strings.TrimSpace(c.Schedule.Type)) {
	case "interval":
		d, err := ParseInterval(c.Schedule.Value)
		if err != nil {
			return Job{}, fmt.Errorf("job %q: %w", name, err)
		}
		sched = Schedule{Kind: ScheduleInterval, Every: d}
	case "cron":
		sched = Schedule{Kind: ScheduleCron, Expr: strings.TrimSpace(c.Schedule.Value), Timezone: strings.TrimSpace(c.Schedule.TZ)}
		if err := sched.Validate(); err != nil {
			return Job{}, fmt.Errorf("job %q: %w", name, err)
		}
	default:
		return Job{}, fmt.Errorf("job %q: unknown schedule type %q", name, c.Schedule.Type)
	}

	j := Job{
		Name:           name,
		Description:    strings.TrimSpace(c.Description),
		Enabled:        c.Enabled == nil || *c.Enabled,
		Schedule:       sched,
		Command:        c.Command,
		TimeoutSeconds: c.TimeoutSeconds,
		RunWindowHours: c.RunWindowHours,
		SessionType:    strings.TrimSpace(c.SessionType),
	}
	if j.TimeoutSeconds <= 0 {
		j.TimeoutSeconds = defaultTimeoutSeconds
	}
	if j.RunWindowHours <= 0 {
		j.RunWindowHours = defaultRunWindowHours
	}

	if len(c.QuietHours) > 0 {
		if len(c.QuietHours) != 2 {
			return Job{}, fmt.Errorf("job %q: quiet_hours wants [start, end], got %d values", name, len(c.QuietHours))
		}
		start, end := c.QuietHours[0], c.QuietHours[1]
		if start < 0 || start > 23 || end < 0 || end > 24 {
			return Job{}, fmt.Errorf("job %q: quiet_hours out of range: [%d, %d]", name, start, end)
		}
		j.QuietHoursStart = &start
		j.QuietHoursEnd = &end
	}

	if c.MaxRunsPerWindow != nil {
		if *c.MaxRunsPerWindow <= 0 {
			return Job{}, fmt.Errorf("job %q: max_runs_per_window must be positive", name)
		}
		max := *c.MaxRunsPerWindow
		j.MaxRunsPerWindow = &max
	}
	return j, nil
}

const (
	defaultTimeoutSeconds = 120
	defaultRunWindowHours = 5
)
