package tts

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Mock returns deterministic audio without a network call. Useful for local runs
// and tests without provider credentials.
type Mock struct {
	mu      sync.Mutex
	latency time.Duration
	failing bool
	calls   []string
}

// NewMock creates a mock provider that waits latency before answering.
func NewMock(latency time.Duration) *Mock {
	return &Mock{latency: latency}
}

// SetFailing makes subsequent calls return a server APIError.
func (m *Mock) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Calls returns the texts requested so far.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Fetch returns "audio:" followed by text.
func (m *Mock) Fetch(ctx context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	failing := m.failing
	m.mu.Unlock()

	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.latency):
		}
	}

	if failing {
		return nil, &APIError{StatusCode: 503, Message: "mock failure", Provider: "mock"}
	}
	if text == "" {
		return nil, errors.New("tts: empty text")
	}
	return []byte("audio:" + text), nil
}
