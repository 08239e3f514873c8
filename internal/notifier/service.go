package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tempod/internal/eventbus"
	"tempod/pkg/logx"
)

// Service is the async notification pipeline: event subscription,
// bounded queue, rate limit, delivery. It is safe for concurrent use.
type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	sender  Sender
	limiter *rate.Limiter

	mu      sync.Mutex
	queue   chan string
	stopCh  chan struct{}
	unsub   func()
	wg      sync.WaitGroup
	started bool
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		sender: sender,
		// Burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled && s.sender != nil }

// Start is idempotent; a disabled service starts nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || !s.Enabled() {
		return
	}
	s.started = true
	s.queue = make(chan string, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})

	events, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.unsub = unsub

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.intakeLoop(events)
	}()
	go func() {
		defer s.wg.Done()
		s.deliverLoop(ctx)
	}()
	s.log.Info("notifier started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Stop halts intake and waits for the in-flight delivery (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsub := s.unsub
	stopCh := s.stopCh
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("notifier stop timed out")
	}
}

func (s *Service) intakeLoop(events <-chan eventbus.Event) {
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text, notable := formatEvent(ev)
			if !notable {
				continue
			}
			s.enqueue(text)
		}
	}
}

// enqueue never blocks: when the queue is full the oldest message is
// dropped so the newest state always gets through.
func (s *Service) enqueue(text string) {
	select {
	case s.queue <- text:
		return
	default:
	}
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- text:
	default:
		s.log.Debug("notification dropped", logx.Int("queue_cap", cap(s.queue)))
	}
}

func (s *Service) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			return
		case text := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.sender.Send(sctx, text)
			cancel()
			if err != nil {
				s.log.Warn("notification delivery failed", logx.Err(err))
			}
		}
	}
}

// Notify queues an ad-hoc message through the same pipeline.
func (s *Service) Notify(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Enabled() {
		return ErrDisabled
	}
	if !s.started {
		return ErrStopped
	}
	select {
	case s.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// formatEvent keeps only the high-signal events and renders them as
// short operator messages.
func formatEvent(ev eventbus.Event) (string, bool) {
	switch ev.Type {
	case eventbus.TypeJobFailed:
		je, ok := ev.Data.(eventbus.JobEvent)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("job %q failed (exit %d): %s", je.JobName, je.ExitCode, je.Error), true
	case eventbus.TypeJobTimeout:
		je, ok := ev.Data.(eventbus.JobEvent)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("job %q timed out after %.0fs", je.JobName, je.DurationS), true
	case eventbus.TypeBreakExhausted:
		te, ok := ev.Data.(eventbus.TimerEvent)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("break budget exhausted in %s; backlog %s", te.Mode, msDur(te.BacklogMS)), true
	case eventbus.TypeIdleTimeout:
		return "idle too long; switched to break", true
	case eventbus.TypeDailyReset:
		te, ok := ev.Data.(eventbus.TimerEvent)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("new day: counters reset, yesterday's score %d", te.ProductivityScore), true
	default:
		return "", false
	}
}

func msDur(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
