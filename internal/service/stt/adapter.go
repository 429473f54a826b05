// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"
	"time"
)

// Recognition failure classes. Adapters wrap one of these so callers can
// classify failures with errors.Is.
var (
	// ErrNotUnderstood means the provider returned no usable transcript.
	ErrNotUnderstood = errors.New("stt: speech not understood")
	// ErrServiceError means the provider could not be reached or rejected the request.
	ErrServiceError = errors.New("stt: service error")
)

// Request is a span of raw PCM audio submitted for batch recognition.
type Request struct {
	FirstIndex  int64
	LastIndex   int64
	Audio       []byte
	SampleRate  int
	SampleWidth int
}

// Duration returns the length of the audio in the request.
func (r Request) Duration() time.Duration {
	if r.SampleRate <= 0 || r.SampleWidth <= 0 {
		return 0
	}
	samples := len(r.Audio) / r.SampleWidth
	return time.Duration(samples) * time.Second / time.Duration(r.SampleRate)
}

// Result is a recognized transcript.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer performs batch recognition of a complete audio span.
type Recognizer interface {
	// Recognize returns the transcript for the request. Failures wrap
	// ErrNotUnderstood or ErrServiceError.
	Recognize(ctx context.Context, req Request) (Result, error)

	// Close releases provider resources.
	Close() error
}

// ErrorType returns a short label for metrics.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotUnderstood):
		return "not_understood"
	case errors.Is(err, ErrServiceError):
		return "service_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}
