// Package playback coordinates a single shared audio element across all
// observer contexts. The coordinator owns a lazily started playback host;
// every command is serialized through that host so two contexts can never
// fight over the element.
package playback

import (
	"errors"
	"time"

	"sonara/internal/audio"
)

// Rate bounds accepted by SetRate; values outside are clamped.
const (
	MinRate = 0.5
	MaxRate = 2.0
)

// Volume bounds accepted by SetVolume; values outside are clamped.
const (
	MinVolume = 0.0
	MaxVolume = 1.0
)

// Engine is the audio element abstraction the host drives. Implementations
// are not required to be goroutine safe; the host goroutine is the only
// caller.
type Engine interface {
	// Load replaces the current audio and returns its duration in seconds.
	Load(data []byte, mimeType string) (float64, error)
	Play() error
	Pause()
	// Stop pauses and rewinds to the start, keeping the audio loaded.
	Stop()
	// Seek moves the playhead, clamped to [0, duration].
	Seek(seconds float64)
	SetRate(rate float64)
	// Position reports the playhead, total duration and whether playback is
	// running. A finished track reports playing=false at current==duration.
	Position() (current, duration float64, playing bool)
}

var errNothingLoaded = errors.New("no audio loaded")

// clockEngine estimates playback against the wall clock. Duration is
// derived from the payload size at the constant encode bitrate, so it is
// an approximation, not a decode.
type clockEngine struct {
	bitrateBPS float64

	duration float64
	offset   float64
	rate     float64
	playing  bool
	startNow time.Time
	now      func() time.Time
}

func newClockEngine() *clockEngine {
	return &clockEngine{bitrateBPS: audio.DefaultBitrateBPS, rate: 1.0, now: time.Now}
}

func (e *clockEngine) Load(data []byte, mimeType string) (float64, error) {
	if len(data) == 0 {
		return 0, errors.New("empty audio payload")
	}
	e.duration = audio.EstimateDurationSeconds(len(data), int(e.bitrateBPS))
	e.offset = 0
	e.playing = false
	return e.duration, nil
}

func (e *clockEngine) Play() error {
	if e.duration == 0 {
		return errNothingLoaded
	}
	if e.playing {
		return nil
	}
	if e.offset >= e.duration {
		e.offset = 0
	}
	e.playing = true
	e.startNow = e.now()
	return nil
}

func (e *clockEngine) Pause() {
	if !e.playing {
		return
	}
	e.offset = e.position()
	e.playing = false
}

func (e *clockEngine) Stop() {
	e.playing = false
	e.offset = 0
}

func (e *clockEngine) Seek(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	if seconds > e.duration {
		seconds = e.duration
	}
	if e.playing {
		e.startNow = e.now()
	}
	e.offset = seconds
}

func (e *clockEngine) SetRate(rate float64) {
	if e.playing {
		// Freeze the position at the old rate before the new one applies.
		e.offset = e.position()
		e.startNow = e.now()
	}
	e.rate = rate
}

func (e *clockEngine) Position() (float64, float64, bool) {
	pos := e.position()
	if e.playing && pos >= e.duration {
		e.playing = false
		e.offset = e.duration
		pos = e.duration
	}
	return pos, e.duration, e.playing
}

func (e *clockEngine) position() float64 {
	if !e.playing {
		return e.offset
	}
	pos := e.offset + e.now().Sub(e.startNow).Seconds()*e.rate
	if pos > e.duration {
		pos = e.duration
	}
	return pos
}
