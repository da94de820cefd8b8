package keepalive

import (
	"context"
	"sync"
	"testing"
	"time"
)

type hookCounter struct {
	mu      sync.Mutex
	pings   int
	touches int
	notices []int
	pending int
}

func (h *hookCounter) hooks() Hooks {
	return Hooks{
		Ping: func(context.Context) {
			h.mu.Lock()
			h.pings++
			h.mu.Unlock()
		},
		Touch: func(context.Context) error {
			h.mu.Lock()
			h.touches++
			h.mu.Unlock()
			return nil
		},
		Notify: func(counter int) {
			h.mu.Lock()
			h.notices = append(h.notices, counter)
			h.mu.Unlock()
		},
		Pending: func() int {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.pending
		},
	}
}

func (h *hookCounter) snapshot() (int, int, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings, h.touches, append([]int(nil), h.notices...)
}

func (h *hookCounter) setPending(n int) {
	h.mu.Lock()
	h.pending = n
	h.mu.Unlock()
}

func TestHeartbeatFiresImmediatelyAndPeriodically(t *testing.T) {
	hc := &hookCounter{pending: 1}
	s := NewSupervisor(Config{
		HeartbeatInterval: 10 * time.Millisecond,
		WakeInterval:      time.Hour,
	}, hc.hooks())

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pings, touches, notices := hc.snapshot()
		if pings >= 3 && touches >= 3 && len(notices) >= 3 {
			// Counter is monotonically increasing from 1.
			for i, n := range notices {
				if n != i+1 {
					t.Fatalf("notify counter sequence wrong: %v", notices)
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("heartbeat too slow: pings=%d touches=%d notices=%d", pings, touches, len(notices))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	hc := &hookCounter{pending: 1}
	s := NewSupervisor(Config{
		HeartbeatInterval: time.Hour,
		WakeInterval:      time.Hour,
	}, hc.hooks())

	s.Start()
	s.Start()
	s.Start()
	defer s.Stop()

	// Only the single immediate beat from the first Start.
	time.Sleep(20 * time.Millisecond)
	pings, _, _ := hc.snapshot()
	if pings != 1 {
		t.Fatalf("expected 1 ping after repeated Start, got %d", pings)
	}
	if !s.Running() {
		t.Fatalf("supervisor should be running")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	hc := &hookCounter{pending: 1}
	s := NewSupervisor(Config{}, hc.hooks())
	s.Stop() // never started

	s.Start()
	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatalf("supervisor should be stopped")
	}

	// Restart works after Stop.
	s.Start()
	if !s.Running() {
		t.Fatalf("supervisor should restart")
	}
	s.Stop()
}

func TestWakeTimerStopsItselfWhenIdle(t *testing.T) {
	hc := &hookCounter{pending: 0}
	s := NewSupervisor(Config{
		HeartbeatInterval: time.Hour,
		WakeInterval:      10 * time.Millisecond,
	}, hc.hooks())

	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("supervisor did not stop itself with no pending jobs")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestWakeTimerPingsWhileJobsPending(t *testing.T) {
	hc := &hookCounter{pending: 2}
	s := NewSupervisor(Config{
		HeartbeatInterval: time.Hour,
		WakeInterval:      10 * time.Millisecond,
	}, hc.hooks())

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pings, _, _ := hc.snapshot()
		if pings >= 3 { // 1 immediate + wake re-pings
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("wake timer did not ping, pings=%d", pings)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !s.Running() {
		t.Fatalf("supervisor must keep running while jobs are pending")
	}

	hc.setPending(0)
	deadline = time.Now().Add(2 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("supervisor did not stop after jobs drained")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
