// Package tts binds the remote OpenAI speech API: one request per text
// chunk, with retry, backoff and per-attempt timeout handling.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MimeType is the encoding of every synthesized payload.
const MimeType = "audio/mpeg"

// Instruction strings differ between the first and later chunks so prosody
// stays continuous across chunk boundaries.
const (
	FirstChunkInstructions        = "Read in a clear, natural tone."
	ContinuationChunkInstructions = "Continue reading in the same tone."
)

const DefaultVoice = "coral"

// voices supported by the gpt-4o-mini-tts model.
var voices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable",
	"nova", "onyx", "sage", "shimmer", "verse", "marin", "cedar",
}

func Voices() []string {
	out := make([]string, len(voices))
	copy(out, voices)
	return out
}

func IsSupportedVoice(voice string) bool {
	voice = strings.ToLower(strings.TrimSpace(voice))
	for _, v := range voices {
		if v == voice {
			return true
		}
	}
	return false
}

// Request describes one chunk synthesis call.
type Request struct {
	Input        string
	Voice        string
	Instructions string
}

// Client synthesizes one chunk of text into encoded audio bytes.
type Client interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

var (
	ErrMissingCredential = errors.New("tts: API key is required")
	// ErrTimeout marks a per-attempt timeout. Timed-out calls are terminal
	// for that chunk: repeating a two-minute wait inside the retry loop is
	// not worth it, so recovery happens at the job level instead.
	ErrTimeout = errors.New("tts: request timed out")
)

// HTTPError carries the remote status and the server's error message.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("speech API error: %d - %s", e.Status, e.Message)
}
