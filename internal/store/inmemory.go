package store

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	doc      Document
	payloads map[string]AudioPayload

	// MaxAudioBytes, when positive, rejects larger payloads with
	// ErrQuotaExceeded. Zero means unlimited.
	MaxAudioBytes int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{payloads: make(map[string]AudioPayload)}
}

func (s *InMemoryStore) LoadDocument(_ context.Context) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone(), nil
}

func (s *InMemoryStore) SaveDocument(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone()
	return nil
}

func (s *InMemoryStore) SaveAudio(_ context.Context, payload AudioPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MaxAudioBytes > 0 && len(payload.Bytes) > s.MaxAudioBytes {
		return fmt.Errorf("%w: payload is %d bytes", ErrQuotaExceeded, len(payload.Bytes))
	}
	stored := payload
	stored.Bytes = make([]byte, len(payload.Bytes))
	copy(stored.Bytes, payload.Bytes)
	s.payloads[payload.JobID] = stored
	return nil
}

func (s *InMemoryStore) LoadAudio(_ context.Context, jobID string) (AudioPayload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.payloads[jobID]
	if !ok {
		return AudioPayload{}, ErrPayloadNotFound
	}
	out := payload
	out.Bytes = make([]byte, len(payload.Bytes))
	copy(out.Bytes, payload.Bytes)
	return out, nil
}

func (s *InMemoryStore) DeleteAudio(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, jobID)
	return nil
}

func (s *InMemoryStore) Touch(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
