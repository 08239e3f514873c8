package timer

import (
	"fmt"
	"time"
)

// Snapshot is the persistence shape for an Engine.
//
// Lock and idle state are carried as remaining/elapsed durations rather
// than absolute instants, so a restore against a different process's
// clock does not drift the schedule.
type Snapshot struct {
	Mode               Mode   `json:"mode"`
	AccumulatedBreakMS int64  `json:"accumulated_break_ms"`
	BreakBacklogMS     int64  `json:"break_backlog_ms"`
	TotalWorkMS        int64  `json:"total_work_ms"`
	TotalBreakMS       int64  `json:"total_break_ms"`
	DailyStartDate     string `json:"daily_start_date"`

	LockRemainingMS int64 `json:"lock_remaining_ms,omitempty"`

	IdleActive    bool  `json:"idle_active,omitempty"`
	IdleElapsedMS int64 `json:"idle_elapsed_ms,omitempty"`
	IdleExempt    bool  `json:"idle_exempt,omitempty"`
}

// Export is the simplified, externally consumed reporting shape.
type Export struct {
	Mode                  Mode  `json:"mode"`
	BreakSecondsAvailable int64 `json:"break_seconds_available"`
	BacklogActive         bool  `json:"backlog_active"`
	BacklogSeconds        int64 `json:"backlog_seconds"`
	TotalWorkSeconds      int64 `json:"total_work_seconds"`
	TotalBreakSeconds     int64 `json:"total_break_seconds"`
}

// Snapshot captures the full engine state relative to now.
func (e *Engine) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Mode:               e.mode,
		AccumulatedBreakMS: e.accumulatedMS,
		BreakBacklogMS:     e.backlogMS,
		TotalWorkMS:        e.totalWorkMS,
		TotalBreakMS:       e.totalBreakMS,
		DailyStartDate:     e.dailyStartDate,
		IdleExempt:         e.idleExempt,
	}
	if e.lockActive {
		if rem := e.lockExpiry.Sub(now); rem > 0 {
			s.LockRemainingMS = rem.Milliseconds()
		}
	}
	if !e.idleEnteredAt.IsZero() {
		s.IdleActive = true
		if el := now.Sub(e.idleEnteredAt); el > 0 {
			s.IdleElapsedMS = el.Milliseconds()
		}
	}
	return s
}

// Restore rebuilds an engine from a snapshot against the restoring
// process's clock. A lock with no remaining time is treated as expired.
func Restore(cfg Config, s Snapshot, now time.Time) (*Engine, error) {
	if !s.Mode.Valid() {
		return nil, fmt.Errorf("snapshot has unknown mode %q", s.Mode)
	}
	if s.AccumulatedBreakMS < 0 || s.BreakBacklogMS < 0 {
		return nil, fmt.Errorf("snapshot has negative counters")
	}

	e := New(cfg, now)
	e.mode = s.Mode
	e.accumulatedMS = s.AccumulatedBreakMS
	e.backlogMS = s.BreakBacklogMS
	e.totalWorkMS = s.TotalWorkMS
	e.totalBreakMS = s.TotalBreakMS
	if s.DailyStartDate != "" {
		e.dailyStartDate = s.DailyStartDate
	}
	e.idleExempt = s.IdleExempt

	if s.LockRemainingMS > 0 {
		e.lockActive = true
		e.lockExpiry = now.Add(time.Duration(s.LockRemainingMS) * time.Millisecond)
	}
	if s.IdleActive {
		e.idleEnteredAt = now.Add(-time.Duration(s.IdleElapsedMS) * time.Millisecond)
	}
	return e, nil
}

// Export produces the reporting snapshot (seconds granularity).
func (e *Engine) Export() Export {
	return Export{
		Mode:                  e.mode,
		BreakSecondsAvailable: e.accumulatedMS / 1000,
		BacklogActive:         e.backlogMS > 0,
		BacklogSeconds:        e.backlogMS / 1000,
		TotalWorkSeconds:      e.totalWorkMS / 1000,
		TotalBreakSeconds:     e.totalBreakMS / 1000,
	}
}
