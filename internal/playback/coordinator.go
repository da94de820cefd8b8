package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"sonara/internal/protocol"
	"sonara/internal/store"
)

// ErrHostUnavailable means the playback host could not be started or
// stopped answering commands.
var ErrHostUnavailable = errors.New("playback host unavailable")

// Loader fetches the stored audio payload for a job.
type Loader func(ctx context.Context, jobID string) (store.AudioPayload, error)

// Broadcaster delivers best-effort playback notifications to observers.
type Broadcaster interface {
	Broadcast(msg any)
}

const (
	commandTimeout = 5 * time.Second
	tickInterval   = time.Second
)

type result struct {
	state protocol.PlaybackState
	err   error
}

type command struct {
	fn    func(h *host) error
	reply chan result
}

// Coordinator serializes every playback command through a single host
// goroutine that owns the Engine. The host starts lazily on the first
// command that needs it and publishes time and state updates while playing.
type Coordinator struct {
	newEngine func() (Engine, error)
	load      Loader
	broadcast Broadcaster

	mu     sync.Mutex
	cmds   chan command
	cancel context.CancelFunc
}

func NewCoordinator(newEngine func() (Engine, error), load Loader, broadcast Broadcaster) *Coordinator {
	if newEngine == nil {
		newEngine = func() (Engine, error) { return newClockEngine(), nil }
	}
	return &Coordinator{newEngine: newEngine, load: load, broadcast: broadcast}
}

// host state lives entirely on the host goroutine.
type host struct {
	engine      Engine
	loadedJobID string
	rate        float64
	volume      float64
	wasPlaying  bool
	broadcast   Broadcaster
}

// Load makes jobID the loaded track. A non-forced load over a different
// article that is currently playing is silently refused: it succeeds with
// the unchanged state and the playing article is not interrupted.
func (c *Coordinator) Load(ctx context.Context, jobID string, force bool) (protocol.PlaybackState, error) {
	payload, err := c.load(ctx, jobID)
	if err != nil {
		return protocol.PlaybackState{}, err
	}
	return c.do(ctx, func(h *host) error {
		return h.loadPayload(payload, force)
	})
}

// Play ensures jobID is loaded, then starts playback from the current
// position. A different loaded track is stopped and replaced.
func (c *Coordinator) Play(ctx context.Context, jobID string) (protocol.PlaybackState, error) {
	state, err := c.do(ctx, func(h *host) error { return nil })
	if err != nil {
		return state, err
	}
	if state.LoadedJobID != jobID {
		if _, err := c.Load(ctx, jobID, true); err != nil {
			return protocol.PlaybackState{}, err
		}
	}
	return c.do(ctx, func(h *host) error { return h.play() })
}

func (c *Coordinator) Pause(ctx context.Context) (protocol.PlaybackState, error) {
	return c.do(ctx, func(h *host) error {
		h.engine.Pause()
		h.wasPlaying = false
		h.publishState("paused")
		return nil
	})
}

// Resume restarts the loaded track. When jobID names a different track it
// behaves like Play for that track.
func (c *Coordinator) Resume(ctx context.Context, jobID string) (protocol.PlaybackState, error) {
	if jobID != "" {
		return c.Play(ctx, jobID)
	}
	return c.do(ctx, func(h *host) error { return h.play() })
}

// StopPlayback halts playback and releases the loaded track. Playing it
// again requires a fresh load.
func (c *Coordinator) StopPlayback(ctx context.Context) (protocol.PlaybackState, error) {
	return c.do(ctx, func(h *host) error {
		h.engine.Stop()
		h.loadedJobID = ""
		h.wasPlaying = false
		h.publishState("stopped")
		return nil
	})
}

func (c *Coordinator) Seek(ctx context.Context, seconds float64) (protocol.PlaybackState, error) {
	return c.do(ctx, func(h *host) error {
		h.engine.Seek(seconds)
		current, duration, _ := h.engine.Position()
		if h.broadcast != nil {
			h.broadcast.Broadcast(protocol.AudioTimeUpdate{
				Type:        protocol.TypeAudioTimeUpdate,
				JobID:       h.loadedJobID,
				CurrentTime: current,
				Duration:    duration,
			})
		}
		return nil
	})
}

// SetRate applies a playback rate clamped to [0.5, 2.0].
func (c *Coordinator) SetRate(ctx context.Context, rate float64) (protocol.PlaybackState, error) {
	if rate < MinRate {
		rate = MinRate
	}
	if rate > MaxRate {
		rate = MaxRate
	}
	return c.do(ctx, func(h *host) error {
		h.engine.SetRate(rate)
		h.rate = rate
		return nil
	})
}

// SetVolume applies an output volume clamped to [0, 1]. The clock engine has
// no audio output, so volume is host state reported back to observers.
func (c *Coordinator) SetVolume(ctx context.Context, volume float64) (protocol.PlaybackState, error) {
	if volume < MinVolume {
		volume = MinVolume
	}
	if volume > MaxVolume {
		volume = MaxVolume
	}
	return c.do(ctx, func(h *host) error {
		h.volume = volume
		return nil
	})
}

// State snapshots the host. It never starts the host: with no host running
// the zero state (nothing loaded, rate 1.0) is authoritative.
func (c *Coordinator) State(ctx context.Context) (protocol.PlaybackState, error) {
	c.mu.Lock()
	running := c.cmds != nil
	c.mu.Unlock()
	if !running {
		return protocol.PlaybackState{PlaybackRate: 1.0, Volume: 1.0}, nil
	}
	return c.do(ctx, func(h *host) error { return nil })
}

// Close tears the host down. Subsequent commands restart it.
func (c *Coordinator) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cmds = nil
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) do(ctx context.Context, fn func(h *host) error) (protocol.PlaybackState, error) {
	cmds, err := c.ensureHost()
	if err != nil {
		return protocol.PlaybackState{}, fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}

	cmd := command{fn: fn, reply: make(chan result, 1)}
	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case cmds <- cmd:
	case <-ctx.Done():
		return protocol.PlaybackState{}, ctx.Err()
	case <-timer.C:
		return protocol.PlaybackState{}, fmt.Errorf("%w: host not responding", ErrHostUnavailable)
	}

	select {
	case res := <-cmd.reply:
		return res.state, res.err
	case <-ctx.Done():
		return protocol.PlaybackState{}, ctx.Err()
	case <-timer.C:
		return protocol.PlaybackState{}, fmt.Errorf("%w: host not responding", ErrHostUnavailable)
	}
}

func (c *Coordinator) ensureHost() (chan command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmds != nil {
		return c.cmds, nil
	}
	engine, err := c.newEngine()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmds := make(chan command)
	h := &host{engine: engine, rate: 1.0, volume: 1.0, broadcast: c.broadcast}
	go c.run(ctx, h, cmds)
	c.cmds = cmds
	c.cancel = cancel
	log.Printf("playback: host started")
	return cmds, nil
}

func (c *Coordinator) run(ctx context.Context, h *host, cmds chan command) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-cmds:
			err := cmd.fn(h)
			cmd.reply <- result{state: h.snapshot(), err: err}
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *host) snapshot() protocol.PlaybackState {
	state := protocol.PlaybackState{PlaybackRate: h.rate, Volume: h.volume}
	if h.engine == nil || h.loadedJobID == "" {
		return state
	}
	state.LoadedJobID = h.loadedJobID
	state.CurrentTime, state.Duration, state.Playing = h.engine.Position()
	return state
}

func (h *host) loadPayload(payload store.AudioPayload, force bool) error {
	_, _, playing := h.engine.Position()
	if playing && h.loadedJobID != "" && h.loadedJobID != payload.JobID && !force {
		// Silent refusal: the playing article keeps going and the caller
		// gets the unchanged state back.
		log.Printf("playback: load of %s refused, %s is playing", payload.JobID, h.loadedJobID)
		return nil
	}
	if _, err := h.engine.Load(payload.Bytes, payload.MimeType); err != nil {
		return err
	}
	h.loadedJobID = payload.JobID
	h.wasPlaying = false
	h.publishState("loaded")
	return nil
}

func (h *host) play() error {
	if h.loadedJobID == "" {
		return errNothingLoaded
	}
	if err := h.engine.Play(); err != nil {
		return err
	}
	h.wasPlaying = true
	if h.broadcast != nil {
		h.broadcast.Broadcast(protocol.AudioPlaying{
			Type:  protocol.TypeAudioPlaying,
			JobID: h.loadedJobID,
		})
	}
	h.publishState("playing")
	return nil
}

// tick publishes a time update each second while playing and an "ended"
// state exactly once when the playhead runs out.
func (h *host) tick() {
	if h.engine == nil || h.loadedJobID == "" {
		return
	}
	current, duration, playing := h.engine.Position()
	if playing {
		if h.broadcast != nil {
			h.broadcast.Broadcast(protocol.AudioTimeUpdate{
				Type:        protocol.TypeAudioTimeUpdate,
				JobID:       h.loadedJobID,
				CurrentTime: current,
				Duration:    duration,
			})
		}
		return
	}
	if h.wasPlaying {
		h.wasPlaying = false
		h.publishState("ended")
	}
}

func (h *host) publishState(state string) {
	if h.broadcast == nil {
		return
	}
	var current, duration float64
	if h.loadedJobID != "" {
		current, duration, _ = h.engine.Position()
	}
	h.broadcast.Broadcast(protocol.AudioStateUpdate{
		Type:        protocol.TypeAudioStateUpdate,
		State:       state,
		JobID:       h.loadedJobID,
		CurrentTime: current,
		Duration:    duration,
	})
}
