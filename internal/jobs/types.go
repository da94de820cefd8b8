// Package jobs implements the chunked audio generation pipeline: admission,
// the per-chunk synthesis loop, cooperative cancellation, job logging and
// timeout recovery.
package jobs

import (
	"errors"
	"fmt"
)

// State is the job lifecycle position. Terminal states are Succeeded,
// Failed and Cancelled; a job never outlives its terminal transition.
type State string

const (
	StateQueued     State = "queued"
	StateStarting   State = "starting"
	StateProcessing State = "processing"
	StateCombining  State = "combining"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

var (
	ErrAlreadyActive = errors.New("audio generation already in progress")
	ErrNotFound      = errors.New("bookmark not found")
	ErrCancelled     = errors.New("audio generation cancelled by user")
	ErrNoChunks      = errors.New("no audio chunks generated")
	ErrJobTimeout    = errors.New("audio generation timeout; article may be too long")
)

// ChunkError wraps a failure at a specific chunk so the terminal log entry
// can record where the job died.
type ChunkError struct {
	Chunk int // 1-based index of the failing chunk
	Total int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("failed to generate audio for chunk %d/%d: %v", e.Chunk, e.Total, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Progress is one update emitted by the chunk loop. Status is one of
// starting, processing, completed, cancelled, error.
type Progress struct {
	Status              string
	Message             string
	TotalChunks         int
	CompletedChunks     int
	CurrentChunk        int // 1-based
	CurrentChunkChars   int
	CurrentChunkBytes   int
	CurrentChunkSeconds float64
	TotalChars          int
	TotalBytesReceived  int
	ProgressPercent     int
	CancelledAt         int
	FailedAt            int
	Err                 string
}

// ProgressSink receives updates as the loop advances. Implementations must
// tolerate being called from the job goroutine.
type ProgressSink func(Progress)
