package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tempod/internal/cron"
	"tempod/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite-backed persistence layer. It implements
// cron.Store and additionally persists the timer snapshot.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the store, creating the database file and schema as
// needed.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withRetry retries a write a bounded number of times when SQLite
// reports lock contention, instead of surfacing it to the caller.
func (s *Store) withRetry(fn func() error) error {
	const attempts = 4
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(25*(i+1)) * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// ---- Jobs ----

const jobColumns = `id, name, description, enabled,
	schedule_kind, schedule_every_ms, schedule_expr, schedule_tz,
	command, timeout_seconds, quiet_hours_start, quiet_hours_end,
	max_runs_per_window, run_window_hours, session_type,
	created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (cron.Job, error) {
	var (
		j           cron.Job
		enabled     int64
		everyMS     int64
		qhStart     sql.NullInt64
		qhEnd       sql.NullInt64
		maxRuns     sql.NullInt64
		createdMS   int64
		updatedMS   int64
	)
	err := row.Scan(
		&j.ID, &j.Name, &j.Description, &enabled,
		&j.Schedule.Kind, &everyMS, &j.Schedule.Expr, &j.Schedule.Timezone,
		&j.Command, &j.TimeoutSeconds, &qhStart, &qhEnd,
		&maxRuns, &j.RunWindowHours, &j.SessionType,
		&createdMS, &updatedMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return cron.Job{}, cron.ErrNotFound
	}
	if err != nil {
		return cron.Job{}, err
	}
	j.Enabled = enabled != 0
	j.Schedule.Every = time.Duration(everyMS) * time.Millisecond
	if qhStart.Valid {
		v := int(qhStart.Int64)
		j.QuietHoursStart = &v
	}
	if qhEnd.Valid {
		v := int(qhEnd.Int64)
		j.QuietHoursEnd = &v
	}
	if maxRuns.Valid {
		v := int(maxRuns.Int64)
		j.MaxRunsPerWindow = &v
	}
	j.CreatedAt = time.UnixMilli(createdMS).UTC()
	j.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return j, nil
}

func jobArgs(j *cron.Job) []any {
	return []any{
		j.ID, j.Name, j.Description, boolInt(j.Enabled),
		string(j.Schedule.Kind), j.Schedule.Every.Milliseconds(), j.Schedule.Expr, j.Schedule.Timezone,
		j.Command, j.TimeoutSeconds, nullInt(j.QuietHoursStart), nullInt(j.QuietHoursEnd),
		nullInt(j.MaxRunsPerWindow), j.RunWindowHours, j.SessionType,
		j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
	}
}

func (s *Store) CreateJob(ctx context.Context, j *cron.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO jobs(`+jobColumns+`)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			jobArgs(j)...,
		)
		return err
	})
}

// UpsertJobByName inserts a new row or updates the mutable fields of an
// existing one, leaving id and created_at stable.
func (s *Store) UpsertJobByName(ctx context.Context, j *cron.Job) error {
	existing, err := s.getJobBy(ctx, "name", j.Name)
	if errors.Is(err, cron.ErrNotFound) {
		now := time.Now()
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		if j.UpdatedAt.IsZero() {
			j.UpdatedAt = now
		}
		return s.CreateJob(ctx, j)
	}
	if err != nil {
		return err
	}
	j.ID = existing.ID
	j.CreatedAt = existing.CreatedAt
	j.UpdatedAt = time.Now()
	return s.UpdateJob(ctx, *j)
}

func (s *Store) getJobBy(ctx context.Context, col, val string) (cron.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+col+` = ?`, val)
	return scanJob(row)
}

func (s *Store) GetJob(ctx context.Context, id string) (cron.Job, error) {
	return s.getJobBy(ctx, "id", id)
}

func (s *Store) GetJobByName(ctx context.Context, name string) (cron.Job, error) {
	return s.getJobBy(ctx, "name", name)
}

func (s *Store) ListJobs(ctx context.Context) ([]cron.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []cron.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) UpdateJob(ctx context.Context, j cron.Job) error {
	return s.withRetry(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET name=?, description=?, enabled=?,
			   schedule_kind=?, schedule_every_ms=?, schedule_expr=?, schedule_tz=?,
			   command=?, timeout_seconds=?, quiet_hours_start=?, quiet_hours_end=?,
			   max_runs_per_window=?, run_window_hours=?, session_type=?, updated_at=?
			 WHERE id=?`,
			j.Name, j.Description, boolInt(j.Enabled),
			string(j.Schedule.Kind), j.Schedule.Every.Milliseconds(), j.Schedule.Expr, j.Schedule.Timezone,
			j.Command, j.TimeoutSeconds, nullInt(j.QuietHoursStart), nullInt(j.QuietHoursEnd),
			nullInt(j.MaxRunsPerWindow), j.RunWindowHours, j.SessionType, j.UpdatedAt.UnixMilli(),
			j.ID,
		)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return cron.ErrNotFound
		}
		return nil
	})
}

// DeleteJob removes the job row and cascades deletion of its run
// history in one transaction.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE job_id=?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return cron.ErrNotFound
		}
		return tx.Commit()
	})
}

// ---- Runs ----

func (s *Store) InsertRun(ctx context.Context, r *cron.Run) error {
	return s.withRetry(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO runs(job_id, started_at, finished_at, status, skip_reason,
			   duration_seconds, exit_code, output_summary, error_summary)
			 VALUES(?,?,?,?,?,?,?,?,?)`,
			r.JobID, r.StartedAt.UnixMilli(), nullTime(r.FinishedAt), string(r.Status),
			string(r.SkipReason), r.DurationSeconds, nullInt(r.ExitCode),
			r.OutputSummary, r.ErrorSummary,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.ID = id
		return nil
	})
}

func (s *Store) FinalizeRun(ctx context.Context, r cron.Run) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET finished_at=?, status=?, skip_reason=?,
			   duration_seconds=?, exit_code=?, output_summary=?, error_summary=?
			 WHERE id=?`,
			nullTime(r.FinishedAt), string(r.Status), string(r.SkipReason),
			r.DurationSeconds, nullInt(r.ExitCode), r.OutputSummary, r.ErrorSummary,
			r.ID,
		)
		return err
	})
}

func (s *Store) ListRuns(ctx context.Context, jobID string, limit int) ([]cron.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, started_at, finished_at, status, skip_reason,
		   duration_seconds, exit_code, output_summary, error_summary
		 FROM runs WHERE job_id=? ORDER BY started_at DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []cron.Run
	for rows.Next() {
		var (
			r          cron.Run
			startedMS  int64
			finishedMS sql.NullInt64
			exitCode   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.JobID, &startedMS, &finishedMS, &r.Status,
			&r.SkipReason, &r.DurationSeconds, &exitCode, &r.OutputSummary, &r.ErrorSummary); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(startedMS).UTC()
		if finishedMS.Valid {
			t := time.UnixMilli(finishedMS.Int64).UTC()
			r.FinishedAt = &t
		}
		if exitCode.Valid {
			v := int(exitCode.Int64)
			r.ExitCode = &v
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountTerminalRuns counts ok/error/timeout runs started at or after
// since. Skips and dry runs never count toward the quota.
func (s *Store) CountTerminalRuns(ctx context.Context, jobID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs
		 WHERE job_id=? AND started_at >= ? AND status IN ('ok','error','timeout')`,
		jobID, since.UnixMilli(),
	).Scan(&n)
	return n, err
}

func (s *Store) CountRunsStartedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE started_at >= ?`, since.UnixMilli(),
	).Scan(&n)
	return n, err
}

// ---- Timer snapshot ----

func (s *Store) SaveTimerState(ctx context.Context, data []byte) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO timer_state(id, data, updated_at) VALUES(1,?,?)
			 ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
			string(data), time.Now().UnixMilli(),
		)
		return err
	})
}

func (s *Store) LoadTimerState(ctx context.Context) ([]byte, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM timer_state WHERE id=1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

// ---- helpers ----

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
