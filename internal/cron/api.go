package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tempod/pkg/logx"
)

// LoadFromConfig upserts each job definition by name and registers every
// enabled one. A malformed definition is fatal for that job only; the
// rest still load.
func (e *Engine) LoadFromConfig(ctx context.Context, defs []JobConfig) error {
	var firstErr error
	loaded := 0
	for _, def := range defs {
		job, err := def.Job()
		if err != nil {
			e.log.Error("invalid job definition", logx.String("job", def.Name), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.store.UpsertJobByName(ctx, &job); err != nil {
			e.log.Error("failed to upsert job", logx.String("job", job.Name), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if job.Enabled {
			if err := e.registerJob(job); err != nil {
				e.log.Error("failed to register job", logx.String("job", job.Name), logx.Err(err))
				continue
			}
		} else {
			e.deregisterJob(job.ID)
		}
		loaded++
	}
	e.log.Info("jobs loaded from config", logx.Int("loaded", loaded), logx.Int("defined", len(defs)))
	return firstErr
}

// CreateJob validates, persists, and (when enabled) registers a new job.
func (e *Engine) CreateJob(ctx context.Context, job Job) (Job, error) {
	if job.Name == "" {
		return Job{}, fmt.Errorf("job name is required")
	}
	if job.Command == "" {
		return Job{}, fmt.Errorf("job command is required")
	}
	if err := job.Schedule.Validate(); err != nil {
		return Job{}, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.TimeoutSeconds <= 0 {
		job.TimeoutSeconds = defaultTimeoutSeconds
	}
	if job.RunWindowHours <= 0 {
		job.RunWindowHours = defaultRunWindowHours
	}
	now := e.nowFn()
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := e.store.CreateJob(ctx, &job); err != nil {
		return Job{}, err
	}
	if job.Enabled {
		if err := e.registerJob(job); err != nil {
			return Job{}, err
		}
	}
	return job, nil
}

// GetJob returns the stored row enriched with live scheduler state.
func (e *Engine) GetJob(ctx context.Context, id string) (JobInfo, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return JobInfo{}, err
	}
	return JobInfo{
		Job:       job,
		NextRunAt: e.nextRunAt(job.ID),
		IsRunning: e.isRunning(job.ID),
	}, nil
}

// ListJobs returns all jobs enriched with live scheduler state.
func (e *Engine) ListJobs(ctx context.Context) ([]JobInfo, error) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, JobInfo{
			Job:       j,
			NextRunAt: e.nextRunAt(j.ID),
			IsRunning: e.isRunning(j.ID),
		})
	}
	return infos, nil
}

// UpdateJob applies a partial update and reconciles the scheduler entry.
func (e *Engine) UpdateJob(ctx context.Context, id string, upd JobUpdate) (Job, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}

	if upd.Description != nil {
		job.Description = *upd.Description
	}
	if upd.Enabled != nil {
		job.Enabled = *upd.Enabled
	}
	if upd.Schedule != nil {
		if err := upd.Schedule.Validate(); err != nil {
			return Job{}, err
		}
		job.Schedule = *upd.Schedule
	}
	if upd.Command != nil {
		if *upd.Command == "" {
			return Job{}, fmt.Errorf("job command cannot be empty")
		}
		job.Command = *upd.Command
	}
	if upd.TimeoutSeconds != nil {
		if *upd.TimeoutSeconds <= 0 {
			return Job{}, fmt.Errorf("timeout must be positive")
		}
		job.TimeoutSeconds = *upd.TimeoutSeconds
	}
	if upd.ClearQuietHours {
		job.QuietHoursStart = nil
		job.QuietHoursEnd = nil
	} else {
		if upd.QuietHoursStart != nil {
			if *upd.QuietHoursStart < 0 || *upd.QuietHoursStart > 23 {
				return Job{}, fmt.Errorf("quiet hours start out of range")
			}
			job.QuietHoursStart = upd.QuietHoursStart
		}
		if upd.QuietHoursEnd != nil {
			if *upd.QuietHoursEnd < 0 || *upd.QuietHoursEnd > 24 {
				return Job{}, fmt.Errorf("quiet hours end out of range")
			}
			job.QuietHoursEnd = upd.QuietHoursEnd
		}
	}
	if upd.ClearQuota {
		job.MaxRunsPerWindow = nil
	} else if upd.MaxRunsPerWindow != nil {
		if *upd.MaxRunsPerWindow <= 0 {
			return Job{}, fmt.Errorf("max runs per window must be positive")
		}
		job.MaxRunsPerWindow = upd.MaxRunsPerWindow
	}
	if upd.RunWindowHours != nil {
		if *upd.RunWindowHours <= 0 {
			return Job{}, fmt.Errorf("run window hours must be positive")
		}
		job.RunWindowHours = *upd.RunWindowHours
	}
	if upd.SessionType != nil {
		job.SessionType = *upd.SessionType
	}
	job.UpdatedAt = e.nowFn()

	if err := e.store.UpdateJob(ctx, job); err != nil {
		return Job{}, err
	}

	if job.Enabled {
		if err := e.registerJob(job); err != nil {
			return Job{}, err
		}
	} else {
		e.deregisterJob(job.ID)
	}
	return job, nil
}

// DeleteJob deregisters the scheduler entry and deletes the job row,
// cascading to its run history.
func (e *Engine) DeleteJob(ctx context.Context, id string) error {
	e.deregisterJob(id)
	return e.store.DeleteJob(ctx, id)
}

// TriggerJob invokes a job manually. The guard chain still applies; the
// returned run is either the execution or the recorded skip.
func (e *Engine) TriggerJob(ctx context.Context, id string) (Run, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return Run{}, err
	}
	return e.runGuarded(ctx, job), nil
}

// TriggerJobAfter schedules a one-shot future invocation of the normal
// trigger path. Guards run at fire time, not at scheduling time.
func (e *Engine) TriggerJobAfter(ctx context.Context, id string, delay time.Duration) error {
	if delay <= 0 {
		_, err := e.TriggerJob(ctx, id)
		return err
	}
	if _, err := e.store.GetJob(ctx, id); err != nil {
		return err
	}
	time.AfterFunc(delay, func() { e.enqueue(id) })
	e.log.Debug("delayed trigger scheduled", logx.String("job_id", id), logx.Duration("delay", delay))
	return nil
}

// DryRunJob evaluates guards for a stored job without executing it.
func (e *Engine) DryRunJob(ctx context.Context, id string) (DryRunReport, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return DryRunReport{}, err
	}
	return e.DryRun(ctx, job)
}

// RunHistory fetches the most recent runs for a job, newest first.
func (e *Engine) RunHistory(ctx context.Context, jobID string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return e.store.ListRuns(ctx, jobID, limit)
}

// Status returns the aggregate view.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{TotalJobs: len(jobs)}
	for _, j := range jobs {
		if j.Enabled {
			st.EnabledJobs++
		}
	}
	e.mu.Lock()
	st.RunningJobs = len(e.running)
	e.mu.Unlock()

	n, err := e.store.CountRunsStartedSince(ctx, e.nowFn().Add(-24*time.Hour))
	if err != nil {
		return Status{}, err
	}
	st.RunsLast24h = n
	return st, nil
}
