package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tempod/pkg/logx"
)

// quietHoursBlocked reports whether the job's quiet-hours window covers
// the given hour. The window is half-open [start, end): the start hour
// itself is blocked, the end hour itself is allowed. start > end wraps
// midnight (e.g. 22..8).
func quietHoursBlocked(job Job, hour int) bool {
	if job.QuietHoursStart == nil || job.QuietHoursEnd == nil {
		return false
	}
	start, end := *job.QuietHoursStart, *job.QuietHoursEnd
	if start > end {
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}

// currentHour is the hour-of-day in the job's timezone.
func (e *Engine) currentHour(job Job, now time.Time) int {
	return now.In(job.Schedule.location(e.cfg.Timezone)).Hour()
}

// quotaExceeded counts terminal-status runs (ok/error/timeout; never
// skips or dry runs) inside the trailing window.
func (e *Engine) quotaExceeded(ctx context.Context, job Job, now time.Time) (bool, int, error) {
	if job.MaxRunsPerWindow == nil {
		return false, 0, nil
	}
	window := job.RunWindowHours
	if window <= 0 {
		window = defaultRunWindowHours
	}
	since := now.Add(-time.Duration(window) * time.Hour)
	n, err := e.store.CountTerminalRuns(ctx, job.ID, since)
	if err != nil {
		return false, 0, err
	}
	return n >= *job.MaxRunsPerWindow, n, nil
}

// evaluateGuards runs the veto chain in order, short-circuiting at the
// first trip. Store errors during the quota count fail open with a log
// line; a flaky store must not silently disable a job.
func (e *Engine) evaluateGuards(ctx context.Context, job Job, now time.Time) (SkipReason, bool) {
	if e.isRunning(job.ID) {
		return SkipAlreadyRunning, false
	}
	if quietHoursBlocked(job, e.currentHour(job, now)) {
		return SkipQuietHours, false
	}
	exceeded, _, err := e.quotaExceeded(ctx, job, now)
	if err != nil {
		e.log.Warn("quota check failed; allowing run", logx.String("job", job.Name), logx.Err(err))
	} else if exceeded {
		return SkipQuotaExceeded, false
	}
	if !job.Enabled {
		return SkipDisabled, false
	}
	return "", true
}

// DryRun evaluates all four guard predicates independently (not
// short-circuited), records a dry_run history entry, and returns the
// verdict plus a human-readable diagnostic.
func (e *Engine) DryRun(ctx context.Context, job Job) (DryRunReport, error) {
	now := e.nowFn()
	hour := e.currentHour(job, now)

	rep := DryRunReport{
		AlreadyRunning:    e.isRunning(job.ID),
		QuietHoursBlocked: quietHoursBlocked(job, hour),
		Enabled:           job.Enabled,
	}
	exceeded, count, err := e.quotaExceeded(ctx, job, now)
	if err != nil {
		return DryRunReport{}, fmt.Errorf("quota check: %w", err)
	}
	rep.QuotaExceeded = exceeded
	rep.WouldRun = !rep.AlreadyRunning && !rep.QuietHoursBlocked && !rep.QuotaExceeded && rep.Enabled

	var b strings.Builder
	fmt.Fprintf(&b, "dry run for %q at hour %d\n", job.Name, hour)
	fmt.Fprintf(&b, "- already running: %s\n", verdict(!rep.AlreadyRunning))
	if job.QuietHoursStart != nil && job.QuietHoursEnd != nil {
		fmt.Fprintf(&b, "- quiet hours [%d, %d): %s\n", *job.QuietHoursStart, *job.QuietHoursEnd, verdict(!rep.QuietHoursBlocked))
	} else {
		fmt.Fprintf(&b, "- quiet hours: not configured\n")
	}
	if job.MaxRunsPerWindow != nil {
		fmt.Fprintf(&b, "- quota %d/%d in %dh window: %s\n", count, *job.MaxRunsPerWindow, job.RunWindowHours, verdict(!rep.QuotaExceeded))
	} else {
		fmt.Fprintf(&b, "- quota: not configured\n")
	}
	fmt.Fprintf(&b, "- enabled: %s\n", verdict(rep.Enabled))
	if rep.WouldRun {
		fmt.Fprintf(&b, "verdict: would run")
	} else {
		fmt.Fprintf(&b, "verdict: would be blocked")
	}
	rep.Diagnostic = b.String()

	run := Run{
		JobID:         job.ID,
		StartedAt:     now,
		FinishedAt:    &now,
		Status:        StatusDryRun,
		OutputSummary: tail(rep.Diagnostic, summaryLimit),
	}
	if !rep.WouldRun {
		run.SkipReason = SkipWouldBeBlocked
	}
	if err := e.store.InsertRun(ctx, &run); err != nil {
		return DryRunReport{}, fmt.Errorf("record dry run: %w", err)
	}
	return rep, nil
}

func verdict(ok bool) string {
	if ok {
		return "pass"
	}
	return "BLOCKED"
}
