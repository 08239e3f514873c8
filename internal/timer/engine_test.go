package timer

import (
	"testing"
	"time"
)

var base = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Config{}, base)
}

func hasEvent(events []Event, typ EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestRateArithmeticExact(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mode  Mode
		delta int64 // expected credit change over 60s
	}{
		{ModeWorkSilence, 30000},
		{ModeWorkMusic, 30000},
		{ModeWorkVideo, -15000},
		{ModeWorkScrolling, -30000},
		{ModeWorkGaming, -30000},
		{ModeWorkGym, 45000},
		{ModeGym, 60000},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			e := New(Config{}, base)
			if _, _, err := e.SetMode(tt.mode, false, base); err != nil {
				t.Fatalf("SetMode(%s): %v", tt.mode, err)
			}
			before := e.AccumulatedMS()
			e.Tick(base.Add(60 * time.Second))
			got := e.AccumulatedMS() - before
			if got != tt.delta {
				t.Fatalf("60s in %s: credit delta = %d, want %d", tt.mode, got, tt.delta)
			}
			if e.TotalWorkMS() != 60000 {
				t.Fatalf("total work = %d, want 60000", e.TotalWorkMS())
			}
		})
	}
}

func TestSubSecondTicksNeverDrift(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	seed := e.AccumulatedMS()

	now := base
	for i := 0; i < 999; i++ {
		now = now.Add(100 * time.Millisecond)
		e.Tick(now)
	}
	if e.TotalWorkMS() != 99900 {
		t.Fatalf("elapsed work = %d ms, want 99900", e.TotalWorkMS())
	}
	if got := e.AccumulatedMS() - seed; got != 49950 {
		t.Fatalf("credited = %d ms, want exactly 49950", got)
	}
}

func TestBacklogAndExhaustion(t *testing.T) {
	t.Parallel()
	e := New(Config{BreakSeed: 10 * time.Second}, base)
	if _, _, err := e.SetMode(ModeWorkGaming, false, base); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	// 60s gaming debits 30000ms against 10000ms of credit.
	events := e.Tick(base.Add(60 * time.Second))
	if !hasEvent(events, EventBreakExhausted) {
		t.Fatal("expected BREAK_EXHAUSTED event")
	}
	if e.AccumulatedMS() != 0 {
		t.Fatalf("accumulated = %d, want clamped to 0", e.AccumulatedMS())
	}
	if e.BacklogMS() != 20000 {
		t.Fatalf("backlog = %d, want 20000", e.BacklogMS())
	}

	// Positive delta repays backlog before any new credit accrues.
	if _, _, err := e.SetMode(ModeGym, false, base.Add(60*time.Second)); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	e.Tick(base.Add(75 * time.Second)) // +15000 at 1:1
	if e.BacklogMS() != 5000 {
		t.Fatalf("backlog after partial repay = %d, want 5000", e.BacklogMS())
	}
	if e.AccumulatedMS() != 0 {
		t.Fatalf("accumulated = %d, want 0 until backlog repaid", e.AccumulatedMS())
	}

	e.Tick(base.Add(85 * time.Second)) // +10000: repay 5000, credit 5000
	if e.BacklogMS() != 0 {
		t.Fatalf("backlog = %d, want 0", e.BacklogMS())
	}
	if e.AccumulatedMS() != 5000 {
		t.Fatalf("accumulated = %d, want 5000", e.AccumulatedMS())
	}
}

func TestCreditAndBacklogNeverBothPositive(t *testing.T) {
	t.Parallel()
	e := New(Config{BreakSeed: 3 * time.Second}, base)
	modes := []Mode{ModeWorkGaming, ModeGym, ModeWorkScrolling, ModeWorkSilence, ModeBreak}

	now := base
	for i := 0; i < 500; i++ {
		now = now.Add(700 * time.Millisecond)
		if i%37 == 0 {
			m := modes[(i/37)%len(modes)]
			_, _, _ = e.SetMode(m, false, now)
		}
		e.Tick(now)
		if e.AccumulatedMS() < 0 {
			t.Fatalf("accumulated went negative: %d", e.AccumulatedMS())
		}
		if e.BacklogMS() < 0 {
			t.Fatalf("backlog went negative: %d", e.BacklogMS())
		}
		if e.AccumulatedMS() > 0 && e.BacklogMS() > 0 {
			t.Fatalf("credit (%d) and backlog (%d) both positive", e.AccumulatedMS(), e.BacklogMS())
		}
	}
}

func TestBreakModeSpendsCredit(t *testing.T) {
	t.Parallel()
	e := New(Config{BreakSeed: 2 * time.Minute}, base)
	if _, _, err := e.SetMode(ModeBreak, false, base); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	e.Tick(base.Add(30 * time.Second))
	if e.AccumulatedMS() != 90000 {
		t.Fatalf("accumulated = %d, want 90000", e.AccumulatedMS())
	}
	if e.TotalBreakMS() != 30000 {
		t.Fatalf("total break = %d, want 30000", e.TotalBreakMS())
	}
	if e.TotalWorkMS() != 0 {
		t.Fatalf("total work = %d, want 0", e.TotalWorkMS())
	}
}

func TestSetModeSameModeIsNoop(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	changed, events, err := e.SetMode(ModeWorkSilence, false, base)
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if changed {
		t.Fatal("expected changed=false for same mode")
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestSetModeUnknown(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	if _, _, err := e.SetMode(Mode("napping"), false, base); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestManualLock(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	// Manual switch to break arms the 20-minute lock.
	changed, _, err := e.SetMode(ModeBreak, false, base)
	if err != nil || !changed {
		t.Fatalf("manual break switch: changed=%v err=%v", changed, err)
	}

	// Automatic attempts to leave are rejected before expiry.
	for _, m := range []Mode{ModeWorkSilence, ModeWorkGaming, ModeIdle} {
		changed, _, err := e.SetMode(m, true, base.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("SetMode(%s): %v", m, err)
		}
		if changed {
			t.Fatalf("automatic switch to %s honored during lock", m)
		}
	}
	if e.Mode() != ModeBreak {
		t.Fatalf("mode = %s, want break", e.Mode())
	}

	// Accepted exactly at expiry.
	changed, _, err = e.SetMode(ModeWorkSilence, true, base.Add(20*time.Minute))
	if err != nil || !changed {
		t.Fatalf("automatic switch at lock expiry: changed=%v err=%v", changed, err)
	}
}

func TestManualSwitchAlwaysHonoredAndClearsLock(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	_, _, _ = e.SetMode(ModePause, false, base)

	changed, _, err := e.SetMode(ModeWorkMusic, false, base.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("manual switch during lock: changed=%v err=%v", changed, err)
	}

	// Lock is gone: automatic changes work immediately.
	changed, _, err = e.SetMode(ModeIdle, true, base.Add(2*time.Minute))
	if err != nil || !changed {
		t.Fatalf("automatic switch after manual unlock: changed=%v err=%v", changed, err)
	}
}

func TestLargeGapIsDropped(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	seed := e.AccumulatedMS()

	// 11 minutes exceeds the idle-gap threshold: advance cursor, no accrual.
	e.Tick(base.Add(11 * time.Minute))
	if e.AccumulatedMS() != seed || e.TotalWorkMS() != 0 {
		t.Fatalf("oversized gap accrued: credit=%d work=%d", e.AccumulatedMS(), e.TotalWorkMS())
	}

	// Cursor advanced: the next small tick counts only its own elapsed.
	e.Tick(base.Add(11*time.Minute + 10*time.Second))
	if e.TotalWorkMS() != 10000 {
		t.Fatalf("total work = %d, want 10000", e.TotalWorkMS())
	}
}

func TestNonPositiveElapsedIsNoop(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	e.Tick(base) // zero elapsed
	e.Tick(base.Add(-time.Second))
	if e.TotalWorkMS() != 0 || e.AccumulatedMS() != New(Config{}, base).AccumulatedMS() {
		t.Fatal("non-positive elapsed must not accrue")
	}
}

func TestIdleTimeoutForcesBreak(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	_, _, _ = e.SetMode(ModeIdle, true, base)

	now := base
	var fired []Event
	for i := 0; i < 16; i++ {
		now = now.Add(time.Minute)
		fired = append(fired, e.Tick(now)...)
	}
	if e.Mode() != ModeBreak {
		t.Fatalf("mode = %s, want break after idle timeout", e.Mode())
	}
	if !hasEvent(fired, EventIdleTimeout) {
		t.Fatal("expected IDLE_TIMEOUT event")
	}
}

func TestIdleTimeoutExempt(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	_, _, _ = e.SetMode(ModeIdle, true, base)
	e.SetIdleExempt(true)

	now := base
	for i := 0; i < 30; i++ {
		now = now.Add(time.Minute)
		e.Tick(now)
	}
	if e.Mode() != ModeIdle {
		t.Fatalf("mode = %s, want idle (exempt)", e.Mode())
	}
}

func TestIdleTimeoutBypassesManualLock(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	// Manual pause arms the lock, then idle is manually selected
	// (manual switches are always honored).
	_, _, _ = e.SetMode(ModePause, false, base)
	_, _, _ = e.SetMode(ModeIdle, false, base.Add(time.Minute))

	now := base.Add(time.Minute)
	for i := 0; i < 16; i++ {
		now = now.Add(time.Minute)
		e.Tick(now)
	}
	if e.Mode() != ModeBreak {
		t.Fatalf("mode = %s, want break (idle timeout is not lockable)", e.Mode())
	}
}

func TestDailyResetFiresOnceAtResetHour(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	e.Tick(base.Add(2 * time.Minute)) // earn a little credit

	// New date, before the reset hour: nothing happens, date unchanged.
	early := time.Date(2025, 3, 11, 8, 59, 0, 0, time.UTC)
	if events := e.Tick(early); hasEvent(events, EventDailyReset) {
		t.Fatal("reset fired before reset hour")
	}
	if e.DailyStartDate() != "2025-03-10" {
		t.Fatalf("daily start date = %s, want unchanged 2025-03-10", e.DailyStartDate())
	}

	// First tick at/after the reset hour fires exactly once.
	at := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	events := e.Tick(at)
	if !hasEvent(events, EventDailyReset) {
		t.Fatal("expected DAILY_RESET at reset hour")
	}
	if e.DailyStartDate() != "2025-03-11" {
		t.Fatalf("daily start date = %s, want 2025-03-11", e.DailyStartDate())
	}
	if e.TotalWorkMS() != 0 || e.BacklogMS() != 0 {
		t.Fatalf("counters not zeroed: work=%d backlog=%d", e.TotalWorkMS(), e.BacklogMS())
	}
	if e.AccumulatedMS() != (5 * time.Minute).Milliseconds() {
		t.Fatalf("seed = %d, want fresh default buffer", e.AccumulatedMS())
	}
	if e.Mode() != ModeWorkSilence {
		t.Fatalf("mode = %s, want work_silence", e.Mode())
	}

	if events := e.Tick(at.Add(time.Minute)); hasEvent(events, EventDailyReset) {
		t.Fatal("reset fired twice for one date transition")
	}
}

func TestDailyResetProductivityScore(t *testing.T) {
	t.Parallel()
	e := New(Config{BreakSeed: time.Minute}, base)
	if _, _, err := e.SetMode(ModeGym, false, base); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	// 5 minutes of gym at 1:1 on top of the 1-minute seed: 6 minutes credit.
	now := base
	for i := 0; i < 5; i++ {
		now = now.Add(time.Minute)
		e.Tick(now)
	}

	at := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	events := e.Tick(at)
	var reset *Event
	for i := range events {
		if events[i].Type == EventDailyReset {
			reset = &events[i]
		}
	}
	if reset == nil {
		t.Fatal("expected DAILY_RESET")
	}
	if reset.ProductivityScore != 6 {
		t.Fatalf("productivity score = %d, want 6", reset.ProductivityScore)
	}
}
