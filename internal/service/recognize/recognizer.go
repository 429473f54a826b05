// Package recognize turns a stream of captured audio chunks into recognition
// requests, either as an overlapping sliding window or as non-overlapping
// accumulated spans.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/service/segment"
	"ai-call-presence-service/internal/service/stt"
)

// Mode selects how chunks are grouped into requests.
type Mode string

const (
	// ModeSliding submits the last WindowSize chunks after every chunk.
	ModeSliding Mode = "sliding"
	// ModeAccumulate grows a span until it reaches AccumulateThreshold, submits it once and clears.
	ModeAccumulate Mode = "accumulate"
)

// Config holds recognizer settings.
type Config struct {
	Mode                Mode
	WindowSize          int
	AccumulateThreshold time.Duration
	RequestTimeout      time.Duration
	Source              string // Prefix for segment IDs
}

// DefaultConfig returns a sliding window of two chunks.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeSliding,
		WindowSize:          2,
		AccumulateThreshold: 10 * time.Second,
		RequestTimeout:      30 * time.Second,
		Source:              "mic",
	}
}

// Result is a recognized window.
type Result struct {
	SegmentID  string
	Mode       Mode
	FirstIndex int64
	LastIndex  int64
	Text       string
	Confidence float64
	Audio      time.Duration
	At         time.Time
}

// Sink receives recognition results.
type Sink interface {
	OnRecognized(ctx context.Context, r Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Result)

// OnRecognized calls f.
func (f SinkFunc) OnRecognized(ctx context.Context, r Result) { f(ctx, r) }

// Recognizer consumes audio chunks in index order and submits recognition requests.
type Recognizer struct {
	stt       stt.Recognizer
	sink      Sink
	config    Config
	window    *Window
	lifecycle *Lifecycle
	segGen    *segment.Generator
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a recognizer.
func New(r stt.Recognizer, sink Sink, cfg Config) *Recognizer {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.AccumulateThreshold <= 0 {
		cfg.AccumulateThreshold = def.AccumulateThreshold
	}
	if cfg.Source == "" {
		cfg.Source = def.Source
	}

	capacity := cfg.WindowSize
	if cfg.Mode == ModeAccumulate {
		capacity = 0
	}

	gen := segment.NewGenerator()
	return &Recognizer{
		stt:       r,
		sink:      sink,
		config:    cfg,
		window:    NewWindow(capacity),
		lifecycle: NewLifecycle(gen.Next(cfg.Source + "-session")),
		segGen:    gen,
		logger:    log.With().Str("component", "recognizer").Str("mode", string(cfg.Mode)).Logger(),
		metrics:   metrics.DefaultMetrics,
	}
}

// State returns the current lifecycle state.
func (r *Recognizer) State() State {
	return r.lifecycle.State()
}

// Run processes chunks until the channel is closed or ctx is done, then
// moves to STOPPED. Chunks must arrive with strictly increasing indices;
// any other chunk is dropped. In accumulate mode the remaining span is
// submitted when the channel closes. Recognition failures never end the loop.
func (r *Recognizer) Run(ctx context.Context, chunks <-chan models.AudioChunk) error {
	if r.lifecycle.IsStopped() {
		return ErrStopped
	}
	defer r.lifecycle.Stop()

	r.logger.Info().
		Str("sessionId", r.lifecycle.SessionId()).
		Int("windowSize", r.config.WindowSize).
		Dur("threshold", r.config.AccumulateThreshold).
		Msg("Recognizer started")

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Int("windows", r.lifecycle.Windows()).Msg("Recognizer stopped")
			return nil
		case c, ok := <-chunks:
			if !ok {
				if r.config.Mode == ModeAccumulate && r.window.Len() > 0 {
					r.submit(ctx)
					r.window.Clear()
				}
				r.logger.Info().Int("windows", r.lifecycle.Windows()).Msg("Recognizer input ended")
				return nil
			}

			if c.Index <= last {
				r.metrics.AudioChunksDropped.Inc()
				r.logger.Warn().
					Int64("index", c.Index).
					Int64("last", last).
					Msg("Out of order chunk dropped")
				continue
			}
			last = c.Index
			r.metrics.RecordAudioReceived(len(c.Audio))

			r.window.Push(c)
			if err := r.lifecycle.Advance(r.window.Len(), r.window.Capacity()); err != nil {
				return err
			}

			switch r.config.Mode {
			case ModeAccumulate:
				if r.window.Duration() >= r.config.AccumulateThreshold {
					r.submit(ctx)
					r.window.Clear()
				}
			default:
				r.submit(ctx)
			}
		}
	}
}

// submit sends the current window and delivers a successful result to the sink.
func (r *Recognizer) submit(ctx context.Context) {
	first, last := r.window.Span()
	rate, width := r.window.Format()
	req := stt.Request{
		FirstIndex:  first,
		LastIndex:   last,
		Audio:       r.window.Audio(),
		SampleRate:  rate,
		SampleWidth: width,
	}
	span := r.window.Duration()

	reqCtx := ctx
	if r.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.config.RequestTimeout)
		defer cancel()
	}

	res, err := r.stt.Recognize(reqCtx, req)
	r.metrics.RecordRecognition(string(r.config.Mode), stt.ErrorType(err), span.Seconds())
	if err != nil {
		event := r.logger.Warn()
		if errors.Is(err, stt.ErrNotUnderstood) {
			event = r.logger.Debug()
		}
		event.Err(err).
			Int64("firstIndex", first).
			Int64("lastIndex", last).
			Msg("Recognition failed")
		return
	}

	result := Result{
		SegmentID:  r.segGen.Next(r.config.Source),
		Mode:       r.config.Mode,
		FirstIndex: first,
		LastIndex:  last,
		Text:       res.Text,
		Confidence: res.Confidence,
		Audio:      span,
		At:         time.Now(),
	}
	r.logger.Debug().
		Str("segmentId", result.SegmentID).
		Int64("firstIndex", first).
		Int64("lastIndex", last).
		Str("text", res.Text).
		Msg("Recognized")

	if r.sink != nil {
		r.sink.OnRecognized(ctx, result)
	}
}

// String describes a result span for logs.
func (r Result) String() string {
	return fmt.Sprintf("%s[%d-%d] %q", r.SegmentID, r.FirstIndex, r.LastIndex, r.Text)
}
