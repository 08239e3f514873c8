package timer

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// EventType identifies a state-machine event produced by Tick/SetMode.
type EventType string

const (
	EventBreakExhausted EventType = "BREAK_EXHAUSTED"
	EventIdleTimeout    EventType = "IDLE_TIMEOUT"
	EventDailyReset     EventType = "DAILY_RESET"
	EventModeChanged    EventType = "MODE_CHANGED"
)

// Event is returned to the caller instead of being published directly;
// the engine itself performs no I/O.
type Event struct {
	Type EventType
	Mode Mode

	// ProductivityScore is whole minutes of unused break credit at the
	// moment of daily reset. Set on DAILY_RESET only.
	ProductivityScore int64
}

// Config controls the state machine's thresholds.
// Zero values fall back to defaults (see withDefaults).
type Config struct {
	// IdleGap is the largest elapsed-between-ticks span that still counts
	// as continuous activity. Larger gaps (suspend, sleep) are dropped.
	IdleGap time.Duration

	// IdleTimeout is how long the idle mode may persist before the engine
	// force-switches to break.
	IdleTimeout time.Duration

	// LockDuration is the manual-lock window after a deliberate switch to
	// break or pause.
	LockDuration time.Duration

	// ResetHour is the hour-of-day (0-23) at or after which a date change
	// triggers the daily reset.
	ResetHour int

	// BreakSeed is the break credit a fresh day starts with.
	BreakSeed time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleGap <= 0 {
		c.IdleGap = 10 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 20 * time.Minute
	}
	if c.ResetHour <= 0 {
		c.ResetHour = 9
	}
	if c.BreakSeed <= 0 {
		c.BreakSeed = 5 * time.Minute
	}
	return c
}

// Engine is the work/break accounting state machine.
// Not safe for concurrent use; see package doc.
type Engine struct {
	cfg Config

	mode           Mode
	accumulatedMS  int64
	backlogMS      int64
	totalWorkMS    int64
	totalBreakMS   int64
	dailyStartDate string

	lockActive bool
	lockExpiry time.Time

	idleEnteredAt time.Time // zero when not idle
	idleExempt    bool

	lastTick time.Time
}

// New creates an engine for the day containing now, seeded with the
// default break buffer.
func New(cfg Config, now time.Time) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:            cfg,
		mode:           ModeWorkSilence,
		accumulatedMS:  cfg.BreakSeed.Milliseconds(),
		dailyStartDate: now.Format(dateLayout),
		lastTick:       now,
	}
}

func (e *Engine) Mode() Mode             { return e.mode }
func (e *Engine) AccumulatedMS() int64   { return e.accumulatedMS }
func (e *Engine) BacklogMS() int64       { return e.backlogMS }
func (e *Engine) TotalWorkMS() int64     { return e.totalWorkMS }
func (e *Engine) TotalBreakMS() int64    { return e.totalBreakMS }
func (e *Engine) DailyStartDate() string { return e.dailyStartDate }

// SetIdleExempt marks the idle state as exempt from the idle timeout
// (e.g. the user is in a meeting away from input devices).
func (e *Engine) SetIdleExempt(v bool) { e.idleExempt = v }

// Tick advances the accounting by the wall time elapsed since the last
// tick. now must be in the user's local timezone; its calendar date and
// hour drive the daily-reset check.
func (e *Engine) Tick(now time.Time) []Event {
	var events []Event

	// Daily boundary first. Before the reset hour the stored date is
	// deliberately left unchanged so the reset fires exactly once, at the
	// first tick on/after the reset hour.
	today := now.Format(dateLayout)
	if today != e.dailyStartDate && now.Hour() >= e.cfg.ResetHour {
		events = append(events, e.resetDay(today))
		e.lastTick = now
		return events
	}

	elapsed := now.Sub(e.lastTick)
	e.lastTick = now

	// Non-positive or oversized gaps (suspend, clock steps) advance the
	// cursor without accumulation: a sleep gap must never retroactively
	// credit or debit.
	if elapsed <= 0 || elapsed > e.cfg.IdleGap {
		return events
	}
	ms := elapsed.Milliseconds()

	switch {
	case e.mode.IsWork() || e.mode == ModeGym:
		e.totalWorkMS += ms
		num, den := e.mode.rate()
		events = e.applyDelta(ms*num/den, events)
	case e.mode == ModeBreak:
		e.totalBreakMS += ms
		events = e.applyDelta(-ms, events)
	case e.mode == ModeIdle:
		if !e.idleEnteredAt.IsZero() && !e.idleExempt &&
			now.Sub(e.idleEnteredAt) >= e.cfg.IdleTimeout {
			// Forced transition; not subject to the manual lock.
			e.mode = ModeBreak
			e.idleEnteredAt = time.Time{}
			events = append(events, Event{Type: EventIdleTimeout, Mode: ModeBreak})
		}
	default:
		// pause, sleeping: strictly no-op
	}
	return events
}

// SetMode switches the current mode. automatic marks changes originating
// from detection rather than a deliberate user action; the manual lock
// only rejects automatic changes.
func (e *Engine) SetMode(mode Mode, automatic bool, now time.Time) (bool, []Event, error) {
	if !mode.Valid() {
		return false, nil, fmt.Errorf("unknown mode %q", mode)
	}
	if mode == e.mode {
		return false, nil, nil
	}

	if e.lockActive {
		if now.Before(e.lockExpiry) {
			if automatic && (mode.IsWork() || mode == ModeIdle) {
				return false, nil, nil
			}
		} else {
			// Self-expired; the next attempt succeeds.
			e.lockActive = false
			e.lockExpiry = time.Time{}
		}
	}

	if !automatic {
		// A manual switch always clears the lock, and re-arms it when the
		// user deliberately steps away.
		e.lockActive = false
		e.lockExpiry = time.Time{}
		if mode == ModeBreak || mode == ModePause {
			e.lockActive = true
			e.lockExpiry = now.Add(e.cfg.LockDuration)
		}
	}

	if mode == ModeIdle {
		e.idleEnteredAt = now
	} else {
		e.idleEnteredAt = time.Time{}
	}
	e.mode = mode
	return true, []Event{{Type: EventModeChanged, Mode: mode}}, nil
}

// applyDelta moves d milliseconds of break credit through the
// backlog/credit pair. Backlog and credit are never both positive:
// positive deltas repay backlog before adding credit, negative deltas
// clamp credit at zero and push the shortfall into backlog.
func (e *Engine) applyDelta(d int64, events []Event) []Event {
	if d == 0 {
		return events
	}
	if d > 0 {
		if e.backlogMS > 0 {
			pay := d
			if pay > e.backlogMS {
				pay = e.backlogMS
			}
			e.backlogMS -= pay
			d -= pay
		}
		e.accumulatedMS += d
		return events
	}

	e.accumulatedMS += d
	if e.accumulatedMS < 0 {
		e.backlogMS += -e.accumulatedMS
		e.accumulatedMS = 0
		events = append(events, Event{
			Type: EventBreakExhausted,
			Mode: e.mode,
		})
	}
	return events
}

func (e *Engine) resetDay(today string) Event {
	score := e.accumulatedMS / 60000
	e.accumulatedMS = e.cfg.BreakSeed.Milliseconds()
	e.backlogMS = 0
	e.totalWorkMS = 0
	e.totalBreakMS = 0
	e.dailyStartDate = today
	e.lockActive = false
	e.lockExpiry = time.Time{}
	e.idleEnteredAt = time.Time{}
	e.idleExempt = false
	e.mode = ModeWorkSilence
	return Event{Type: EventDailyReset, Mode: ModeWorkSilence, ProductivityScore: score}
}
