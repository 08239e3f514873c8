package timer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tempod/internal/eventbus"
	"tempod/pkg/logx"
)

type memSaver struct {
	mu   sync.Mutex
	data []byte
}

func (m *memSaver) SaveTimerState(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memSaver) LoadTimerState(ctx context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), m.data...), true, nil
}

func TestServicePersistsOnStop(t *testing.T) {
	t.Parallel()
	saver := &memSaver{}
	s := NewService(ServiceConfig{TickInterval: time.Hour, PersistInterval: time.Hour},
		saver, eventbus.New(), logx.Nop())

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SetMode(ModeGym, false); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	s.Stop(ctx)

	data, ok, err := saver.LoadTimerState(ctx)
	if err != nil || !ok {
		t.Fatalf("load = ok=%v err=%v", ok, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Mode != ModeGym {
		t.Fatalf("persisted mode = %q, want gym", snap.Mode)
	}
}

func TestServiceRestoresSnapshot(t *testing.T) {
	t.Parallel()
	saver := &memSaver{}
	ctx := context.Background()

	first := NewService(ServiceConfig{TickInterval: time.Hour, PersistInterval: time.Hour},
		saver, eventbus.New(), logx.Nop())
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.SetMode(ModeBreak, false); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	first.Stop(ctx)

	second := NewService(ServiceConfig{TickInterval: time.Hour, PersistInterval: time.Hour},
		saver, eventbus.New(), logx.Nop())
	if err := second.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer second.Stop(ctx)

	if got := second.Snapshot().Mode; got != ModeBreak {
		t.Fatalf("restored mode = %q, want break", got)
	}
}

func TestServiceCorruptSnapshotStartsFresh(t *testing.T) {
	t.Parallel()
	saver := &memSaver{data: []byte("{not json")}
	s := NewService(ServiceConfig{TickInterval: time.Hour, PersistInterval: time.Hour},
		saver, eventbus.New(), logx.Nop())
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	if got := s.Snapshot().Mode; got != ModeWorkSilence {
		t.Fatalf("mode = %q, want fresh default", got)
	}
}

func TestServicePublishesModeChange(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := NewService(ServiceConfig{TickInterval: time.Hour, PersistInterval: time.Hour},
		nil, bus, logx.Nop())
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	changed, err := s.SetMode(ModeWorkGym, false)
	if err != nil || !changed {
		t.Fatalf("set mode = changed=%v err=%v", changed, err)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeModeChanged {
			t.Fatalf("event type = %q", ev.Type)
		}
		te, ok := ev.Data.(eventbus.TimerEvent)
		if !ok || te.Mode != string(ModeWorkGym) {
			t.Fatalf("payload = %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	// Same-mode switch is a no-op and publishes nothing.
	changed, err = s.SetMode(ModeWorkGym, false)
	if err != nil || changed {
		t.Fatalf("repeat set mode = changed=%v err=%v", changed, err)
	}
}
