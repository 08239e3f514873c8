package cron

import (
	"context"
	"strings"
	"testing"
	"time"
)

func quietJob(start, end int) Job {
	return Job{QuietHoursStart: &start, QuietHoursEnd: &end}
}

func TestQuietHoursBlocked(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		job  Job
		hour int
		want bool
	}{
		{"not configured", Job{}, 12, false},

		// Wrapping window [22, 8): start blocked, end allowed.
		{"wrap start hour", quietJob(22, 8), 22, true},
		{"wrap late night", quietJob(22, 8), 23, true},
		{"wrap midnight", quietJob(22, 8), 0, true},
		{"wrap early morning", quietJob(22, 8), 7, true},
		{"wrap end hour", quietJob(22, 8), 8, false},
		{"wrap daytime", quietJob(22, 8), 12, false},
		{"wrap before start", quietJob(22, 8), 21, false},

		// Same-day window [8, 22).
		{"day start hour", quietJob(8, 22), 8, true},
		{"day inside", quietJob(8, 22), 15, true},
		{"day last blocked", quietJob(8, 22), 21, true},
		{"day end hour", quietJob(8, 22), 22, false},
		{"day before start", quietJob(8, 22), 7, false},

		// [0, 24) blocks every hour.
		{"full day midnight", quietJob(0, 24), 0, true},
		{"full day noon", quietJob(0, 24), 12, true},
		{"full day last", quietJob(0, 24), 23, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := quietHoursBlocked(tc.job, tc.hour); got != tc.want {
				t.Fatalf("quietHoursBlocked(hour=%d) = %v, want %v", tc.hour, got, tc.want)
			}
		})
	}
}

func TestGuardChainOrder(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Disabled AND quiet-hours blocked: quiet hours wins because it is
	// evaluated before enabled.
	start, end := 0, 24
	job := Job{
		ID:              "g1",
		Name:            "guarded",
		Enabled:         false,
		QuietHoursStart: &start,
		QuietHoursEnd:   &end,
		Command:         "true",
		Schedule:        Schedule{Kind: ScheduleInterval, Every: time.Minute},
	}
	reason, ok := e.evaluateGuards(ctx, job, e.nowFn())
	if ok || reason != SkipQuietHours {
		t.Fatalf("reason = %q ok=%v, want quiet_hours first", reason, ok)
	}

	// Running wins over everything.
	if !e.tryMarkRunning(job.ID) {
		t.Fatal("could not mark running")
	}
	defer e.unmarkRunning(job.ID)
	reason, ok = e.evaluateGuards(ctx, job, e.nowFn())
	if ok || reason != SkipAlreadyRunning {
		t.Fatalf("reason = %q ok=%v, want already_running first", reason, ok)
	}
}

func TestDisabledJobIsVetoedLast(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	job := Job{ID: "g2", Name: "off", Enabled: false, Command: "true",
		Schedule: Schedule{Kind: ScheduleInterval, Every: time.Minute}}
	reason, ok := e.evaluateGuards(context.Background(), job, e.nowFn())
	if ok || reason != SkipDisabled {
		t.Fatalf("reason = %q ok=%v, want disabled", reason, ok)
	}
}

func TestQuotaGuardCountsOnlyTerminalRuns(t *testing.T) {
	t.Parallel()
	e, store := newTestEngine(t)
	ctx := context.Background()

	max := 2
	job := Job{
		Name:             "quota",
		Enabled:          true,
		Command:          "true",
		Schedule:         Schedule{Kind: ScheduleInterval, Every: time.Minute},
		MaxRunsPerWindow: &max,
		RunWindowHours:   5,
		TimeoutSeconds:   30,
	}
	if err := store.CreateJob(ctx, &job); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := e.nowFn()
	insert := func(status RunStatus, age time.Duration) {
		r := Run{JobID: job.ID, StartedAt: now.Add(-age), Status: status}
		if err := store.InsertRun(ctx, &r); err != nil {
			t.Fatalf("insert run: %v", err)
		}
	}

	// One terminal run plus noise that must not count.
	insert(StatusOK, time.Hour)
	insert(StatusSkipped, time.Minute)
	insert(StatusDryRun, time.Minute)
	insert(StatusError, 10*time.Hour) // outside the 5h window

	exceeded, n, err := e.quotaExceeded(ctx, job, now)
	if err != nil {
		t.Fatalf("quotaExceeded: %v", err)
	}
	if exceeded || n != 1 {
		t.Fatalf("exceeded=%v n=%d, want under quota with 1 counted", exceeded, n)
	}

	insert(StatusTimeout, 30*time.Minute)
	exceeded, n, err = e.quotaExceeded(ctx, job, now)
	if err != nil {
		t.Fatalf("quotaExceeded: %v", err)
	}
	if !exceeded || n != 2 {
		t.Fatalf("exceeded=%v n=%d, want at quota with 2 counted", exceeded, n)
	}
}

func TestDryRunEvaluatesAllChecks(t *testing.T) {
	t.Parallel()
	e, store := newTestEngine(t)
	ctx := context.Background()

	// Blocked by quiet hours AND disabled: both must be reported, and a
	// dry_run row must land in history without touching the quota.
	start, end := 0, 24
	max := 1
	job := Job{
		Name:             "inspect",
		Enabled:          false,
		Command:          "true",
		Schedule:         Schedule{Kind: ScheduleInterval, Every: time.Minute},
		QuietHoursStart:  &start,
		QuietHoursEnd:    &end,
		MaxRunsPerWindow: &max,
		RunWindowHours:   5,
		TimeoutSeconds:   30,
	}
	if err := store.CreateJob(ctx, &job); err != nil {
		t.Fatalf("create: %v", err)
	}

	rep, err := e.DryRunJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if rep.WouldRun {
		t.Fatal("wouldRun = true, want blocked")
	}
	if !rep.QuietHoursBlocked {
		t.Error("quiet hours check missing from report")
	}
	if rep.Enabled {
		t.Error("enabled check missing from report")
	}
	if rep.QuotaExceeded || rep.AlreadyRunning {
		t.Errorf("unexpected blocks: %+v", rep)
	}
	if !strings.Contains(rep.Diagnostic, "would be blocked") {
		t.Errorf("diagnostic missing verdict: %q", rep.Diagnostic)
	}

	runs, err := store.ListRuns(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusDryRun || runs[0].SkipReason != SkipWouldBeBlocked {
		t.Fatalf("history = %+v, want one dry_run row", runs)
	}

	n, err := store.CountTerminalRuns(ctx, job.ID, e.nowFn().Add(-5*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("dry run counted toward quota: %d", n)
	}
}

func TestDryRunCleanJobWouldRun(t *testing.T) {
	t.Parallel()
	e, store := newTestEngine(t)
	ctx := context.Background()

	job := Job{
		Name:           "clean",
		Enabled:        true,
		Command:        "true",
		Schedule:       Schedule{Kind: ScheduleInterval, Every: time.Minute},
		RunWindowHours: 5,
		TimeoutSeconds: 30,
	}
	if err := store.CreateJob(ctx, &job); err != nil {
		t.Fatalf("create: %v", err)
	}

	rep, err := e.DryRunJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !rep.WouldRun {
		t.Fatalf("wouldRun = false: %s", rep.Diagnostic)
	}
	if !strings.Contains(rep.Diagnostic, "would run") {
		t.Errorf("diagnostic missing verdict: %q", rep.Diagnostic)
	}
}
