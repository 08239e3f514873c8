package timer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tempod/internal/eventbus"
	"tempod/pkg/logx"
)

// Saver persists engine snapshots between process runs.
type Saver interface {
	SaveTimerState(ctx context.Context, data []byte) error
	LoadTimerState(ctx context.Context) ([]byte, bool, error)
}

// ServiceConfig controls the tick and persistence cadence around the
// pure engine.
type ServiceConfig struct {
	Engine Config

	// TickInterval is how often the engine is advanced (default 1s).
	TickInterval time.Duration

	// PersistInterval is how often the snapshot is written (default 30s).
	// A snapshot is also written on Stop.
	PersistInterval time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = 30 * time.Second
	}
	return c
}

// Service owns the engine behind a mutex, drives the tick loop, and
// publishes the engine's events on the bus. All I/O lives here; the
// engine stays pure.
type Service struct {
	cfg   ServiceConfig
	log   logx.Logger
	bus   eventbus.Bus
	store Saver

	nowFn func() time.Time

	mu  sync.Mutex
	eng *Engine

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewService(cfg ServiceConfig, store Saver, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log,
		bus:   bus,
		store: store,
		nowFn: time.Now,
	}
}

// Start restores the persisted snapshot (or seeds a fresh day) and
// brings up the tick loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	now := s.nowFn()
	s.eng = s.restore(ctx, now)
	s.started = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	s.log.Info("timer started",
		logx.String("mode", string(s.eng.Mode())),
		logx.Int64("break_ms", s.eng.AccumulatedMS()))
	return nil
}

func (s *Service) restore(ctx context.Context, now time.Time) *Engine {
	if s.store == nil {
		return New(s.cfg.Engine, now)
	}
	data, ok, err := s.store.LoadTimerState(ctx)
	if err != nil {
		s.log.Warn("timer snapshot load failed; starting fresh", logx.Err(err))
		return New(s.cfg.Engine, now)
	}
	if !ok {
		return New(s.cfg.Engine, now)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("timer snapshot corrupt; starting fresh", logx.Err(err))
		return New(s.cfg.Engine, now)
	}
	eng, err := Restore(s.cfg.Engine, snap, now)
	if err != nil {
		s.log.Warn("timer snapshot rejected; starting fresh", logx.Err(err))
		return New(s.cfg.Engine, now)
	}
	return eng
}

// Stop halts the loop and writes a final snapshot.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("timer stop timed out")
	}
	s.persist(ctx)
}

func (s *Service) loop(ctx context.Context) {
	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	persist := time.NewTicker(s.cfg.PersistInterval)
	defer persist.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-tick.C:
			s.mu.Lock()
			events := s.eng.Tick(s.nowFn())
			s.mu.Unlock()
			s.publish(events)
		case <-persist.C:
			s.persist(ctx)
		}
	}
}

func (s *Service) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	snap := s.eng.Snapshot(s.nowFn())
	s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		s.log.Error("timer snapshot marshal failed", logx.Err(err))
		return
	}
	if err := s.store.SaveTimerState(ctx, data); err != nil {
		s.log.Warn("timer snapshot save failed", logx.Err(err))
	}
}

// SetMode switches the activity mode. automatic marks detector-driven
// switches, which the manual lock may veto; manual switches always win.
// It reports whether the mode actually changed.
func (s *Service) SetMode(mode Mode, automatic bool) (bool, error) {
	s.mu.Lock()
	changed, events, err := s.eng.SetMode(mode, automatic, s.nowFn())
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	s.publish(events)
	return changed, nil
}

// SetIdleExempt flags the current idle span as exempt from the idle
// timeout.
func (s *Service) SetIdleExempt(v bool) {
	s.mu.Lock()
	s.eng.SetIdleExempt(v)
	s.mu.Unlock()
}

// Snapshot returns the full persisted view at the current instant.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Snapshot(s.nowFn())
}

// Export returns the compact seconds-denominated status view.
func (s *Service) Export() Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Export()
}

func (s *Service) publish(events []Event) {
	if s.bus == nil || len(events) == 0 {
		return
	}
	s.mu.Lock()
	payload := eventbus.TimerEvent{
		Mode:          string(s.eng.Mode()),
		AccumulatedMS: s.eng.AccumulatedMS(),
		BacklogMS:     s.eng.BacklogMS(),
	}
	s.mu.Unlock()

	for _, ev := range events {
		p := payload
		p.Mode = string(ev.Mode)
		p.ProductivityScore = ev.ProductivityScore
		var typ string
		switch ev.Type {
		case EventBreakExhausted:
			typ = eventbus.TypeBreakExhausted
		case EventIdleTimeout:
			typ = eventbus.TypeIdleTimeout
		case EventDailyReset:
			typ = eventbus.TypeDailyReset
		case EventModeChanged:
			typ = eventbus.TypeModeChanged
		default:
			continue
		}
		s.bus.Publish(eventbus.Event{Type: typ, Data: p})
	}
}
