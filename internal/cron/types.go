package cron

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store implementations for missing jobs.
var ErrNotFound = errors.New("job not found")

// RunStatus classifies one historical execution or skip.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusOK      RunStatus = "ok"
	StatusError   RunStatus = "error"
	StatusTimeout RunStatus = "timeout"
	StatusSkipped RunStatus = "skipped"
	StatusDryRun  RunStatus = "dry_run"
)

// Terminal reports whether s counts toward the quota window.
// Skips and dry runs never do.
func (s RunStatus) Terminal() bool {
	return s == StatusOK || s == StatusError || s == StatusTimeout
}

// SkipReason explains a skipped (or blocked dry-run) record.
type SkipReason string

const (
	SkipAlreadyRunning SkipReason = "already_running"
	SkipQuietHours     SkipReason = "quiet_hours"
	SkipQuotaExceeded  SkipReason = "quota_exceeded"
	SkipDisabled       SkipReason = "disabled"
	SkipWouldBeBlocked SkipReason = "would_be_blocked"
)

// ScheduleKind tags the schedule union.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// Schedule is a tagged union: a fixed interval or a 5-field cron
// expression bound to a timezone.
type Schedule struct {
	Kind     ScheduleKind  `json:"kind"`
	Every    time.Duration `json:"every,omitempty"`    // interval only
	Expr     string        `json:"expr,omitempty"`     // cron only, 5 fields
	Timezone string        `json:"timezone,omitempty"` // cron + quiet hours
}

// Job is a named, schedulable unit. Name is unique; upsert-by-name is
// the only supported create-or-update path from config.
type Job struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Schedule    Schedule `json:"schedule"`
	Command     string   `json:"command"`

	TimeoutSeconds int `json:"timeout_seconds"`

	// Quiet hours: both nil means no restriction. Hour-of-day 0-23,
	// half-open [start, end), possibly wrapping midnight.
	QuietHoursStart *int `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *int `json:"quiet_hours_end,omitempty"`

	// Quota: nil MaxRunsPerWindow means unlimited.
	MaxRunsPerWindow *int `json:"max_runs_per_window,omitempty"`
	RunWindowHours   int  `json:"run_window_hours"`

	// SessionType is an opaque passthrough tag injected into the
	// executed command's environment.
	SessionType string `json:"session_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is one historical execution or skip attached to a job.
type Run struct {
	ID         int64      `json:"id"`
	JobID      string     `json:"job_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`

	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ExitCode        *int    `json:"exit_code,omitempty"`
	OutputSummary   string  `json:"output_summary,omitempty"`
	ErrorSummary    string  `json:"error_summary,omitempty"`
}

// JobInfo is the enriched view returned by Get/List: the stored row plus
// live scheduler state.
type JobInfo struct {
	Job
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	IsRunning bool       `json:"is_running"`
}

// JobUpdate is a partial update; nil fields are left unchanged.
// Schedule, when present, replaces the whole schedule sub-object.
type JobUpdate struct {
	Description *string   `json:"description,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
	Schedule    *Schedule `json:"schedule,omitempty"`
	Command     *string   `json:"command,omitempty"`

	TimeoutSeconds *int `json:"timeout_seconds,omitempty"`

	QuietHoursStart *int `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *int `json:"quiet_hours_end,omitempty"`
	ClearQuietHours bool `json:"clear_quiet_hours,omitempty"`

	MaxRunsPerWindow *int `json:"max_runs_per_window,omitempty"`
	RunWindowHours   *int `json:"run_window_hours,omitempty"`
	ClearQuota       bool `json:"clear_quota,omitempty"`

	SessionType *string `json:"session_type,omitempty"`
}

// DryRunReport is the structured verdict of a dry-run trigger. Each
// check is evaluated independently (no short-circuit).
type DryRunReport struct {
	WouldRun          bool   `json:"would_run"`
	AlreadyRunning    bool   `json:"already_running"`
	QuietHoursBlocked bool   `json:"quiet_hours_blocked"`
	QuotaExceeded     bool   `json:"quota_exceeded"`
	Enabled           bool   `json:"enabled"`
	Diagnostic        string `json:"diagnostic"`
}

// Status is the aggregate engine view.
type Status struct {
	TotalJobs   int `json:"total_jobs"`
	EnabledJobs int `json:"enabled_jobs"`
	RunningJobs int `json:"running_jobs"`
	RunsLast24h int `json:"runs_last_24h"`
}

// Store is the persistence API the engine needs. Implementations must
// tolerate transient lock contention internally (bounded retry) rather
// than surfacing it per call.
type Store interface {
	UpsertJobByName(ctx context.Context, j *Job) error
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	UpdateJob(ctx context.Context, j Job) error
	DeleteJob(ctx context.Context, id string) error

	InsertRun(ctx context.Context, r *Run) error
	FinalizeRun(ctx context.Context, r Run) error
	ListRuns(ctx context.Context, jobID string, limit int) ([]Run, error)
	CountTerminalRuns(ctx context.Context, jobID string, since time.Time) (int, error)
	CountRunsStartedSince(ctx context.Context, since time.Time) (int, error)
}
