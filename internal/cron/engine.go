package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"

	"tempod/internal/eventbus"
	"tempod/pkg/logx"
)

// Config controls the engine's execution pipeline.
type Config struct {
	Workers   int    // worker pool size (default 4)
	QueueSize int    // bounded fire queue (default 256)
	Timezone  string // fallback IANA zone for cron triggers and quiet hours
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Engine owns the scheduler, the store handle, and the in-memory
// running set. It is passed by reference to every operation; there are
// no process-wide globals.
type Engine struct {
	cfg   Config
	log   logx.Logger
	store Store
	bus   eventbus.Bus

	// nowFn is swappable for tests.
	nowFn func() time.Time

	mu      sync.Mutex
	c       *robcron.Cron
	entries map[string]robcron.EntryID
	running map[string]struct{}

	queue    chan string
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	runCtx   context.Context
	cancel   context.CancelFunc
	started  bool
}

func New(cfg Config, store Store, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		log:     log,
		store:   store,
		bus:     bus,
		nowFn:   time.Now,
		entries: map[string]robcron.EntryID{},
		running: map[string]struct{}{},
	}
}

// Start brings up the worker pool and the cron runner, then registers
// every enabled stored job.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.c = robcron.New()
	e.queue = make(chan string, e.cfg.QueueSize)
	e.stopCh = make(chan struct{})
	e.runCtx, e.cancel = context.WithCancel(context.Background())

	workers := e.cfg.Workers
	runCtx := e.runCtx
	stopCh := e.stopCh
	queue := e.queue
	e.mu.Unlock()

	e.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer e.workerWG.Done()
			e.worker(runCtx, stopCh, queue)
		}()
	}

	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		if err := e.registerJob(j); err != nil {
			e.log.Error("failed to register job", logx.String("job", j.Name), logx.Err(err))
		}
	}

	e.mu.Lock()
	e.c.Start()
	e.mu.Unlock()
	e.log.Info("cron engine started",
		logx.Int("workers", workers),
		logx.Int("jobs", len(jobs)))
	return nil
}

// Stop halts the cron runner, signals workers, and waits for in-flight
// handlers (bounded by ctx).
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	c := e.c
	e.c = nil
	stopCh := e.stopCh
	cancel := e.cancel
	e.entries = map[string]robcron.EntryID{}
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	close(stopCh)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("cron engine stopped")
	case <-ctx.Done():
		e.log.Warn("cron engine stop timed out; workers finishing in background")
	}
}

func (e *Engine) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case jobID := <-queue:
			e.fire(ctx, jobID)
		}
	}
}

// enqueue hands a fire to the worker pool without ever blocking the
// scheduler goroutine; when the queue is saturated the fire is dropped
// with a warning (the next trigger will catch up).
func (e *Engine) enqueue(jobID string) {
	e.mu.Lock()
	q := e.queue
	started := e.started
	e.mu.Unlock()
	if !started || q == nil {
		return
	}
	select {
	case q <- jobID:
	default:
		e.log.Warn("fire queue full; dropping trigger",
			logx.String("job_id", jobID),
			logx.Int("queue_cap", cap(q)))
	}
}

// fire is the scheduler callback path: load fresh row, run the guard
// chain, then execute.
func (e *Engine) fire(ctx context.Context, jobID string) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.log.Warn("fired job not loadable", logx.String("job_id", jobID), logx.Err(err))
		return
	}
	e.runGuarded(ctx, job)
}

// runGuarded is shared by scheduled fires and manual triggers: guard
// chain, running-set acquisition, execution. The running-set slot is
// released on every exit path.
func (e *Engine) runGuarded(ctx context.Context, job Job) Run {
	now := e.nowFn()
	if reason, ok := e.evaluateGuards(ctx, job, now); !ok {
		return e.recordSkip(ctx, job, reason)
	}
	// Guard 1 re-checked atomically: two concurrent fires may both pass
	// the read-only evaluation.
	if !e.tryMarkRunning(job.ID) {
		return e.recordSkip(ctx, job, SkipAlreadyRunning)
	}
	defer e.unmarkRunning(job.ID)
	return e.execute(ctx, job)
}

func (e *Engine) isRunning(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[jobID]
	return ok
}

func (e *Engine) tryMarkRunning(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[jobID]; ok {
		return false
	}
	e.running[jobID] = struct{}{}
	return true
}

func (e *Engine) unmarkRunning(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, jobID)
}

// registerJob binds the job's trigger to the live scheduler, replacing
// any previous entry.
func (e *Engine) registerJob(job Job) error {
	sched, spec, err := job.Schedule.trigger()
	if err != nil {
		return err
	}
	jobID := job.ID

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c == nil {
		return nil // engine not started; Start() registers stored jobs
	}
	if old, ok := e.entries[jobID]; ok {
		e.c.Remove(old)
		delete(e.entries, jobID)
	}
	cb := func() { e.enqueue(jobID) }
	var entryID robcron.EntryID
	if sched != nil {
		entryID = e.c.Schedule(sched, robcron.FuncJob(cb))
	} else {
		entryID, err = e.c.AddFunc(spec, cb)
		if err != nil {
			return fmt.Errorf("register %q: %w", job.Name, err)
		}
	}
	e.entries[jobID] = entryID
	return nil
}

func (e *Engine) deregisterJob(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c == nil {
		return
	}
	if id, ok := e.entries[jobID]; ok {
		e.c.Remove(id)
		delete(e.entries, jobID)
	}
}

func (e *Engine) nextRunAt(jobID string) *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c == nil {
		return nil
	}
	id, ok := e.entries[jobID]
	if !ok {
		return nil
	}
	next := e.c.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}
