// Package audio provides capture sources, the playback sink and the capture
// loop that feeds fixed-size chunks to the recognizer.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/metrics"
)

var (
	// ErrListenTimeout is returned by a Source when no audio arrived within its listen timeout.
	ErrListenTimeout = errors.New("audio: listen timed out")
	// ErrLimitExceeded is returned by Capturer.Run when a session limit is hit.
	ErrLimitExceeded = errors.New("audio: capture limit exceeded")
)

// Format describes raw PCM audio.
type Format struct {
	SampleRate  int
	SampleWidth int // bytes per sample
	Channels    int
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return f.SampleRate * f.SampleWidth * ch
}

// Source produces raw PCM chunks.
type Source interface {
	// Read blocks until the next chunk is available. It returns ErrListenTimeout
	// when nothing arrived within the listen timeout and io.EOF at end of input.
	Read(ctx context.Context) ([]byte, error)
	Format() Format
	Close() error
}

// CaptureLimits bounds a capture session so a stuck source cannot grow without limit.
type CaptureLimits struct {
	MaxAudioBytes int64         // Max audio captured per session, 0 for unlimited
	MaxDuration   time.Duration // Max session duration, 0 for unlimited
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() CaptureLimits {
	return CaptureLimits{
		MaxAudioBytes: 2 * 1024 * 1024 * 1024, // ~18 hours at 16kHz 16-bit mono
		MaxDuration:   8 * time.Hour,
	}
}

// Capturer reads chunks from a Source, numbers them and forwards them downstream.
type Capturer struct {
	src     Source
	limits  CaptureLimits
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	startTime time.Time
	bytes     int64
	chunks    int64
	timeouts  int64
}

// NewCapturer creates a capturer with default limits.
func NewCapturer(src Source) *Capturer {
	return NewCapturerWithLimits(src, DefaultLimits())
}

// NewCapturerWithLimits creates a capturer with custom limits.
func NewCapturerWithLimits(src Source, limits CaptureLimits) *Capturer {
	return &Capturer{
		src:     src,
		limits:  limits,
		logger:  log.With().Str("component", "capture").Logger(),
		metrics: metrics.DefaultMetrics,
	}
}

// Run captures until the source is exhausted, ctx is done or a limit is hit.
// Chunks are indexed from 0 in capture order. out is closed when Run returns.
// A listen timeout is logged and capture continues.
func (c *Capturer) Run(ctx context.Context, out chan<- models.AudioChunk) error {
	defer close(out)

	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	format := c.src.Format()
	var index int64

	for {
		data, err := c.src.Read(ctx)
		switch {
		case errors.Is(err, ErrListenTimeout):
			c.mu.Lock()
			c.timeouts++
			c.mu.Unlock()
			c.metrics.CaptureTimeouts.Inc()
			c.logger.Debug().Msg("Listen timed out, no audio")
			continue
		case errors.Is(err, io.EOF):
			c.logger.Info().Int64("chunks", index).Msg("Capture source exhausted")
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("capture: %w", err)
		}

		if err := c.checkLimits(int64(len(data))); err != nil {
			c.logger.Warn().Err(err).Msg("Capture stopped")
			return err
		}

		chunk := models.AudioChunk{
			Index:       index,
			Audio:       data,
			SampleRate:  format.SampleRate,
			SampleWidth: format.SampleWidth,
		}
		select {
		case out <- chunk:
			index++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Capturer) checkLimits(n int64) error {
	c.mu.Lock()
	c.bytes += n
	c.chunks++
	bytes := c.bytes
	start := c.startTime
	c.mu.Unlock()

	if c.limits.MaxAudioBytes > 0 && bytes > c.limits.MaxAudioBytes {
		return fmt.Errorf("%w: max audio bytes %d > %d", ErrLimitExceeded, bytes, c.limits.MaxAudioBytes)
	}
	if c.limits.MaxDuration > 0 && time.Since(start) > c.limits.MaxDuration {
		return fmt.Errorf("%w: max duration %v > %v", ErrLimitExceeded, time.Since(start).Round(time.Second), c.limits.MaxDuration)
	}
	return nil
}

// CaptureStats holds session counters for observability.
type CaptureStats struct {
	AudioBytes int64
	Chunks     int64
	Timeouts   int64
	Duration   time.Duration
}

// Stats returns the current session counters.
func (c *Capturer) Stats() CaptureStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var d time.Duration
	if !c.startTime.IsZero() {
		d = time.Since(c.startTime)
	}
	return CaptureStats{
		AudioBytes: c.bytes,
		Chunks:     c.chunks,
		Timeouts:   c.timeouts,
		Duration:   d,
	}
}
