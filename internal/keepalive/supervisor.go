// Package keepalive keeps an otherwise-idle host awake while generation
// jobs are in flight. Two timers cooperate: a heartbeat that fires a
// platform ping, a storage touch and a self-notification every interval,
// and a slower backup wake timer that re-pings while jobs remain pending
// and shuts itself down once nothing is left.
package keepalive

import (
	"context"
	"log"
	"sync"
	"time"
)

type Config struct {
	HeartbeatInterval time.Duration
	WakeInterval      time.Duration
}

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultWakeInterval      = 30 * time.Second
)

// Hooks are the supervisor's side effects. Any nil hook is skipped.
type Hooks struct {
	// Ping performs a cheap platform call whose only purpose is activity.
	Ping func(ctx context.Context)
	// Touch reads from the persistent store to register activity there.
	Touch func(ctx context.Context) error
	// Notify sends a self-addressed heartbeat with a running counter.
	Notify func(counter int)
	// Pending reports how many jobs still need the host alive.
	Pending func() int
}

type Supervisor struct {
	cfg   Config
	hooks Hooks

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	counter int
}

func NewSupervisor(cfg Config, hooks Hooks) *Supervisor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.WakeInterval <= 0 {
		cfg.WakeInterval = defaultWakeInterval
	}
	return &Supervisor{cfg: cfg, hooks: hooks}
}

// Start launches both timers. Calling Start while already running is a
// no-op, so overlapping jobs share one supervisor.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.counter = 0

	go s.run(ctx, s.done)
	log.Printf("keepalive: started (heartbeat=%s wake=%s)", s.cfg.HeartbeatInterval, s.cfg.WakeInterval)
}

// Stop tears both timers down. Safe to call when not running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("keepalive: stopped")
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Fire immediately so a job started right before a host idle deadline
	// still registers activity.
	s.beat(ctx)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	wake := time.NewTicker(s.cfg.WakeInterval)
	defer wake.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			s.beat(ctx)
		case <-wake.C:
			if s.hooks.Pending != nil && s.hooks.Pending() == 0 {
				// Nothing needs us alive anymore; detach so Stop does not
				// wait on ourselves.
				go s.Stop()
				return
			}
			if s.hooks.Ping != nil {
				s.hooks.Ping(ctx)
			}
		}
	}
}

func (s *Supervisor) beat(ctx context.Context) {
	if s.hooks.Ping != nil {
		s.hooks.Ping(ctx)
	}
	if s.hooks.Touch != nil {
		if err := s.hooks.Touch(ctx); err != nil {
			log.Printf("keepalive: storage touch failed: %v", err)
		}
	}
	s.mu.Lock()
	s.counter++
	n := s.counter
	s.mu.Unlock()
	if s.hooks.Notify != nil {
		s.hooks.Notify(n)
	}
}
