package cron

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"tempod/internal/eventbus"
	"tempod/pkg/logx"
)

// summaryLimit caps output/error summaries; only the tail is kept.
const summaryLimit = 500

// execute runs the job's command after the guards have passed and its
// running-set slot is held. It records the running row up front and
// always finalizes it, whatever the outcome.
func (e *Engine) execute(ctx context.Context, job Job) Run {
	started := e.nowFn()
	run := Run{JobID: job.ID, StartedAt: started, Status: StatusRunning}
	if err := e.store.InsertRun(ctx, &run); err != nil {
		e.log.Error("failed to record run start", logx.String("job", job.Name), logx.Err(err))
	}
	e.publish(eventbus.TypeJobStarted, job, run)

	timeout := job.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}
	cctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	// CommandContext kills the child on deadline and Run waits for it,
	// so a timed-out handler never leaks the process.
	cmd := exec.CommandContext(cctx, "/bin/sh", "-c", job.Command)
	cmd.Env = append(os.Environ(),
		"TEMPOD_JOB_NAME="+job.Name,
		"TEMPOD_JOB_ID="+job.ID,
	)
	if job.SessionType != "" {
		cmd.Env = append(cmd.Env, "TEMPOD_SESSION_TYPE="+job.SessionType)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	finished := e.nowFn()
	run.FinishedAt = &finished
	run.DurationSeconds = finished.Sub(started).Seconds()
	run.OutputSummary = tail(stdout.String(), summaryLimit)
	run.ErrorSummary = tail(stderr.String(), summaryLimit)

	switch {
	case cctx.Err() == context.DeadlineExceeded:
		run.Status = StatusTimeout
		run.ErrorSummary = fmt.Sprintf("killed after %ds timeout", timeout)
	case runErr == nil:
		run.Status = StatusOK
		code := 0
		run.ExitCode = &code
	default:
		run.Status = StatusError
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code := exitErr.ExitCode()
			run.ExitCode = &code
			if run.ErrorSummary == "" {
				run.ErrorSummary = tail(runErr.Error(), summaryLimit)
			}
		} else {
			// Spawn/communication failure: keep the exception text.
			run.ErrorSummary = tail(runErr.Error(), summaryLimit)
		}
	}

	if err := e.store.FinalizeRun(ctx, run); err != nil {
		e.log.Error("failed to finalize run", logx.String("job", job.Name), logx.Err(err))
	}

	switch run.Status {
	case StatusOK:
		e.log.Debug("job completed",
			logx.String("job", job.Name),
			logx.Float64("dur_s", run.DurationSeconds))
		e.publish(eventbus.TypeJobFinished, job, run)
	case StatusTimeout:
		e.log.Warn("job timed out",
			logx.String("job", job.Name),
			logx.Int("timeout_s", timeout))
		e.publish(eventbus.TypeJobTimeout, job, run)
	default:
		e.log.Warn("job failed",
			logx.String("job", job.Name),
			logx.Any("exit_code", run.ExitCode),
			logx.String("err", run.ErrorSummary))
		e.publish(eventbus.TypeJobFailed, job, run)
	}
	return run
}

// recordSkip writes a skipped run with its reason and emits the event.
func (e *Engine) recordSkip(ctx context.Context, job Job, reason SkipReason) Run {
	now := e.nowFn()
	run := Run{
		JobID:      job.ID,
		StartedAt:  now,
		FinishedAt: &now,
		Status:     StatusSkipped,
		SkipReason: reason,
	}
	if err := e.store.InsertRun(ctx, &run); err != nil {
		e.log.Error("failed to record skip", logx.String("job", job.Name), logx.Err(err))
	}
	e.log.Debug("job skipped", logx.String("job", job.Name), logx.String("reason", string(reason)))
	e.publish(eventbus.TypeJobSkipped, job, run)
	return run
}

func (e *Engine) publish(typ string, job Job, run Run) {
	if e.bus == nil {
		return
	}
	ev := eventbus.JobEvent{
		JobID:      job.ID,
		JobName:    job.Name,
		Status:     string(run.Status),
		SkipReason: string(run.SkipReason),
		DurationS:  run.DurationSeconds,
		Error:      run.ErrorSummary,
	}
	if run.ExitCode != nil {
		ev.ExitCode = *run.ExitCode
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// tail keeps at most the last max bytes of s, cut on a rune boundary so
// a multibyte character is never split into an invalid prefix.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
