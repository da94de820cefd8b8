package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"sonara/internal/store"
)

type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Broadcast(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func payloadLoader(payloads map[string][]byte) Loader {
	return func(_ context.Context, jobID string) (store.AudioPayload, error) {
		data, ok := payloads[jobID]
		if !ok {
			return store.AudioPayload{}, store.ErrPayloadNotFound
		}
		return store.AudioPayload{JobID: jobID, Bytes: data, MimeType: "audio/mpeg"}, nil
	}
}

func newTestCoordinator(t *testing.T, payloads map[string][]byte) *Coordinator {
	t.Helper()
	c := NewCoordinator(nil, payloadLoader(payloads), &recorder{})
	t.Cleanup(c.Close)
	return c
}

func TestLoadAndState(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{"job-1": make([]byte, 16000)})

	state, err := c.Load(ctx, "job-1", false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.LoadedJobID != "job-1" {
		t.Fatalf("loaded job = %q", state.LoadedJobID)
	}
	if state.Playing {
		t.Fatalf("load must not start playback")
	}
	if state.Duration != 1.0 {
		t.Fatalf("duration = %v", state.Duration)
	}
}

func TestLoadMissingPayload(t *testing.T) {
	c := newTestCoordinator(t, map[string][]byte{})
	if _, err := c.Load(context.Background(), "job-1", false); !errors.Is(err, store.ErrPayloadNotFound) {
		t.Fatalf("expected ErrPayloadNotFound, got %v", err)
	}
}

func TestLoadDoesNotInterruptPlayingJob(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{
		"job-1": make([]byte, 160000),
		"job-2": make([]byte, 16000),
	})

	if _, err := c.Play(ctx, "job-1"); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// The refusal is silent: success envelope, unchanged state.
	state, err := c.Load(ctx, "job-2", false)
	if err != nil {
		t.Fatalf("refused load must still succeed: %v", err)
	}
	if state.LoadedJobID != "job-1" || !state.Playing {
		t.Fatalf("state changed by refused load: %+v", state)
	}

	// Force overrides the refusal.
	state, err = c.Load(ctx, "job-2", true)
	if err != nil {
		t.Fatalf("forced Load: %v", err)
	}
	if state.LoadedJobID != "job-2" || state.Playing {
		t.Fatalf("forced load state: %+v", state)
	}
}

func TestPlaySwitchesFromPlayingJob(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{
		"job-a": make([]byte, 160000),
		"job-b": make([]byte, 16000),
	})

	if _, err := c.Play(ctx, "job-a"); err != nil {
		t.Fatalf("Play A: %v", err)
	}

	// Playing another article stops the current one and takes over.
	state, err := c.Play(ctx, "job-b")
	if err != nil {
		t.Fatalf("Play B while A playing: %v", err)
	}
	if state.LoadedJobID != "job-b" || !state.Playing {
		t.Fatalf("play did not switch tracks: %+v", state)
	}
	if state.CurrentTime != 0 {
		t.Fatalf("switched track should start at 0, got %v", state.CurrentTime)
	}
}

func TestReloadingSameJobWhilePlayingIsAllowed(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{"job-1": make([]byte, 160000)})
	if _, err := c.Play(ctx, "job-1"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if _, err := c.Load(ctx, "job-1", false); err != nil {
		t.Fatalf("reload of the same job should pass: %v", err)
	}
}

func TestPauseResumeStop(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{"job-1": make([]byte, 160000)})

	if _, err := c.Play(ctx, "job-1"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	state, err := c.Pause(ctx)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if state.Playing {
		t.Fatalf("pause should stop progress")
	}

	state, err = c.Resume(ctx, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !state.Playing {
		t.Fatalf("resume should continue")
	}

	state, err = c.StopPlayback(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if state.Playing || state.CurrentTime != 0 {
		t.Fatalf("stop should rewind and pause: %+v", state)
	}
	if state.LoadedJobID != "" {
		t.Fatalf("stop must release the loaded track, got %q", state.LoadedJobID)
	}

	// The released track stays released across a state query.
	state, err = c.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.LoadedJobID != "" || state.Duration != 0 {
		t.Fatalf("state after stop: %+v", state)
	}
}

func TestSeekClampedThroughCoordinator(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{"job-1": make([]byte, 16000)})
	if _, err := c.Load(ctx, "job-1", false); err != nil {
		t.Fatalf("Load: %v", err)
	}
	state, err := c.Seek(ctx, 999)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if state.CurrentTime != state.Duration {
		t.Fatalf("seek past end: %+v", state)
	}
}

func TestSetRateClamps(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{"job-1": make([]byte, 16000)})
	if _, err := c.Load(ctx, "job-1", false); err != nil {
		t.Fatalf("Load: %v", err)
	}

	state, err := c.SetRate(ctx, 9.0)
	if err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	if state.PlaybackRate != MaxRate {
		t.Fatalf("rate = %v, want %v", state.PlaybackRate, MaxRate)
	}

	state, err = c.SetRate(ctx, 0.1)
	if err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	if state.PlaybackRate != MinRate {
		t.Fatalf("rate = %v, want %v", state.PlaybackRate, MinRate)
	}
}

func TestSetVolumeClamps(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{"job-1": make([]byte, 16000)})
	if _, err := c.Load(ctx, "job-1", false); err != nil {
		t.Fatalf("Load: %v", err)
	}

	state, err := c.SetVolume(ctx, 1.5)
	if err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if state.Volume != MaxVolume {
		t.Fatalf("volume = %v, want %v", state.Volume, MaxVolume)
	}

	state, err = c.SetVolume(ctx, -0.2)
	if err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if state.Volume != MinVolume {
		t.Fatalf("volume = %v, want %v", state.Volume, MinVolume)
	}

	state, err = c.SetVolume(ctx, 0.4)
	if err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if state.Volume != 0.4 {
		t.Fatalf("volume = %v, want 0.4", state.Volume)
	}
}

func TestStateWithoutHostIsZero(t *testing.T) {
	c := newTestCoordinator(t, map[string][]byte{})
	state, err := c.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.LoadedJobID != "" || state.Playing {
		t.Fatalf("expected zero state, got %+v", state)
	}
	if state.PlaybackRate != 1.0 {
		t.Fatalf("idle rate = %v, want 1.0", state.PlaybackRate)
	}
	if state.Volume != 1.0 {
		t.Fatalf("idle volume = %v, want 1.0", state.Volume)
	}
}

func TestHostBootstrapFailure(t *testing.T) {
	c := NewCoordinator(
		func() (Engine, error) { return nil, fmt.Errorf("no audio device") },
		payloadLoader(map[string][]byte{"job-1": make([]byte, 16000)}),
		&recorder{},
	)
	defer c.Close()

	if _, err := c.Load(context.Background(), "job-1", false); !errors.Is(err, ErrHostUnavailable) {
		t.Fatalf("expected ErrHostUnavailable, got %v", err)
	}
}

func TestHostRestartsAfterClose(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, map[string][]byte{"job-1": make([]byte, 16000)})
	if _, err := c.Load(ctx, "job-1", false); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.Close()

	// A fresh host comes up lazily with empty state.
	state, err := c.Load(ctx, "job-1", false)
	if err != nil {
		t.Fatalf("Load after Close: %v", err)
	}
	if state.LoadedJobID != "job-1" {
		t.Fatalf("state after restart: %+v", state)
	}
}
