// Package mock provides a mock STT recognizer for running without cloud credentials.
// It returns canned transcripts in rotation, treats all-zero audio as silence,
// and can simulate latency and provider outages.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-call-presence-service/internal/service/stt"
)

// SimulatedUtterance is a canned transcript.
type SimulatedUtterance struct {
	Text       string
	Confidence float64
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{Text: "Can everyone hear me okay", Confidence: 0.94},
	{Text: "Let's start with the status update", Confidence: 0.97},
	{Text: "What do you think about the timeline", Confidence: 0.91},
	{Text: "I have a question about the budget", Confidence: 0.89},
	{Text: "Thanks everyone, talk soon", Confidence: 0.98},
}

// Adapter implements stt.Recognizer with canned responses.
type Adapter struct {
	mu         sync.Mutex
	utterances []SimulatedUtterance
	next       int
	latency    time.Duration
	failing    bool
	requests   []stt.Request
	closed     bool
}

// Option configures the mock.
type Option func(*Adapter)

// WithLatency delays every response.
func WithLatency(d time.Duration) Option {
	return func(a *Adapter) { a.latency = d }
}

// WithUtterances replaces the canned transcripts.
func WithUtterances(u []SimulatedUtterance) Option {
	return func(a *Adapter) {
		if len(u) > 0 {
			a.utterances = u
		}
	}
}

// New creates a new mock STT recognizer.
func New(opts ...Option) *Adapter {
	a := &Adapter{utterances: DefaultUtterances}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetFailing makes subsequent calls fail with stt.ErrServiceError.
func (a *Adapter) SetFailing(failing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing = failing
}

// Requests returns the requests received so far.
func (a *Adapter) Requests() []stt.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]stt.Request(nil), a.requests...)
}

// Recognize returns the next canned utterance.
func (a *Adapter) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	if a.latency > 0 {
		select {
		case <-time.After(a.latency):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.Result{}, fmt.Errorf("mock: recognizer closed: %w", stt.ErrServiceError)
	}
	a.requests = append(a.requests, req)

	if a.failing {
		return stt.Result{}, fmt.Errorf("mock: simulated outage: %w", stt.ErrServiceError)
	}
	if silent(req.Audio) {
		return stt.Result{}, fmt.Errorf("mock: silence in chunks %d-%d: %w", req.FirstIndex, req.LastIndex, stt.ErrNotUnderstood)
	}

	utt := a.utterances[a.next%len(a.utterances)]
	a.next++
	return stt.Result{Text: utt.Text, Confidence: utt.Confidence}, nil
}

// Close marks the mock closed. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func silent(audio []byte) bool {
	for _, b := range audio {
		if b != 0 {
			return false
		}
	}
	return true
}
