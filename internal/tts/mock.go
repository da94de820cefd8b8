package tts

import (
	"context"
	"sync"
)

// MockClient is an in-process Client for tests and local development. By
// default every call returns Audio; SynthesizeFunc overrides the behavior
// per call. Calls records every request in order.
type MockClient struct {
	mu             sync.Mutex
	calls          []Request
	Audio          []byte
	Err            error
	SynthesizeFunc func(ctx context.Context, call int, req Request) ([]byte, error)
}

func NewMockClient(audio []byte) *MockClient {
	return &MockClient{Audio: audio}
}

func (m *MockClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	call := len(m.calls)
	fn := m.SynthesizeFunc
	audio := m.Audio
	err := m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, call, req)
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(audio))
	copy(out, audio)
	return out, nil
}

func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
