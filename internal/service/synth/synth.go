// Package synth converts ordered text units into audio and plays them back in order.
//
// Fetches run concurrently, bounded by a semaphore, and complete in any order.
// A single playback driver walks the units by index and waits on each unit's
// readiness signal before playing it, so a unit is gated by the slowest fetch
// before it rather than by its own latency.
//
//	units ──▶ launcher ──▶ fetch (≤ C concurrent) ──▶ slot.ready
//	              │                                       │
//	              └──────── order (by index) ──▶ playback driver ──▶ Player
package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/service/segment"
)

// DefaultMaxConcurrency bounds simultaneous synthesis fetches.
const DefaultMaxConcurrency = 5

// routeRestoreTimeout bounds the switch back to the live input after cancellation.
const routeRestoreTimeout = 10 * time.Second

// ErrNoAudio is recorded when a fetch succeeds but returns no audio.
var ErrNoAudio = errors.New("synth: no audio produced")

// Fetcher converts text to audio.
type Fetcher interface {
	Fetch(ctx context.Context, text string) ([]byte, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, text string) ([]byte, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

// Player plays audio and blocks until playback completes.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Router switches the call's microphone between the synthetic sink and the live input.
type Router interface {
	ToVirtual(ctx context.Context) error
	ToLive(ctx context.Context) error
}

type noopRouter struct{}

func (noopRouter) ToVirtual(context.Context) error { return nil }
func (noopRouter) ToLive(context.Context) error    { return nil }

// Skipped describes a unit that was not played.
type Skipped struct {
	Index int
	Text  string
	Err   error
}

// Report summarizes one invocation.
type Report struct {
	Played  []int
	Skipped []Skipped
}

// Synthesizer fetches audio for text units with bounded concurrency and plays
// them strictly in index order.
type Synthesizer struct {
	fetcher        Fetcher
	player         Player
	router         Router
	maxConcurrency int
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithMaxConcurrency sets the number of simultaneous fetches. Values below 1 are ignored.
func WithMaxConcurrency(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithRouter sets the audio route switcher.
func WithRouter(r Router) Option {
	return func(s *Synthesizer) {
		if r != nil {
			s.router = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// New creates a Synthesizer.
func New(f Fetcher, p Player, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		fetcher:        f,
		player:         p,
		router:         noopRouter{},
		maxConcurrency: DefaultMaxConcurrency,
		logger:         log.With().Str("component", "synth").Logger(),
		metrics:        metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// slot carries one unit's audio from its fetch goroutine to the playback driver.
// The fetch goroutine writes audio/err and closes ready; the driver reads only after ready.
type slot struct {
	unit  models.TextUnit
	audio []byte
	err   error
	ready chan struct{}
}

// Speak synthesizes and plays units in order.
func (s *Synthesizer) Speak(ctx context.Context, units []models.TextUnit) (Report, error) {
	return s.SpeakStream(ctx, segment.Units(units))
}

// SpeakStream synthesizes and plays units as they arrive on the channel,
// in arrival order, until the channel is closed or ctx is done.
//
// The route is switched to the virtual sink when the first unit arrives and
// back to the live input after the last one, exactly once per call. The live
// input stays open while the stream is still empty, and a stream that yields
// no unit never touches the route. A failed fetch or playback skips the unit
// and the rest of the sequence continues.
func (s *Synthesizer) SpeakStream(ctx context.Context, units <-chan models.TextUnit) (Report, error) {
	s.metrics.SynthInvocations.Inc()

	routed := false
	defer func() {
		if routed {
			s.toLive(ctx)
		}
	}()

	sem := semaphore.NewWeighted(int64(s.maxConcurrency))
	order := make(chan *slot, s.maxConcurrency)
	stop := make(chan struct{})
	defer close(stop)

	go s.launch(ctx, units, sem, order, stop)

	var report Report
	for sl := range order {
		if !routed {
			s.toVirtual(ctx)
			routed = true
		}
		waitStart := time.Now()
		select {
		case <-sl.ready:
		case <-ctx.Done():
			return report, ctx.Err()
		}
		wait := time.Since(waitStart)

		if sl.err != nil {
			s.skip(&report, sl, sl.err, "fetch_failed")
			continue
		}

		if err := s.player.Play(ctx, sl.audio); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.skip(&report, sl, fmt.Errorf("play: %w", err), "play_failed")
			continue
		}

		s.metrics.RecordUnitPlayed(wait.Seconds())
		report.Played = append(report.Played, sl.unit.Index)
		s.logger.Debug().
			Int("index", sl.unit.Index).
			Dur("wait", wait).
			Msg("Unit played")
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// launch starts a fetch for each unit as soon as the semaphore allows and
// hands its slot to the driver in arrival order. It exits when units is
// exhausted, ctx is done, or the driver has stopped.
func (s *Synthesizer) launch(ctx context.Context, units <-chan models.TextUnit, sem *semaphore.Weighted, order chan<- *slot, stop <-chan struct{}) {
	defer close(order)

	for {
		var (
			unit models.TextUnit
			ok   bool
		)
		select {
		case unit, ok = <-units:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		case <-stop:
			return
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}

		sl := &slot{unit: unit, ready: make(chan struct{})}
		go s.fetch(ctx, sem, sl)

		select {
		case order <- sl:
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}

// fetch runs to completion even if nobody will read the slot; late results are dropped with it.
func (s *Synthesizer) fetch(ctx context.Context, sem *semaphore.Weighted, sl *slot) {
	defer sem.Release(1)
	defer close(sl.ready)

	s.metrics.RecordFetchStart()
	start := time.Now()
	audio, err := s.fetcher.Fetch(ctx, sl.unit.Text)
	s.metrics.RecordFetchEnd(time.Since(start).Seconds())

	if err == nil && len(audio) == 0 {
		err = ErrNoAudio
	}
	sl.audio, sl.err = audio, err
}

func (s *Synthesizer) skip(report *Report, sl *slot, err error, reason string) {
	s.metrics.RecordUnitSkipped(reason)
	report.Skipped = append(report.Skipped, Skipped{Index: sl.unit.Index, Text: sl.unit.Text, Err: err})
	s.logger.Warn().
		Err(err).
		Int("index", sl.unit.Index).
		Str("text", sl.unit.Text).
		Msg("Unit skipped")
}

// SpeakOnce fetches and plays a single utterance synchronously.
func (s *Synthesizer) SpeakOnce(ctx context.Context, text string) error {
	s.metrics.SynthInvocations.Inc()

	s.toVirtual(ctx)
	defer s.toLive(ctx)

	audio, err := s.fetcher.Fetch(ctx, text)
	if err == nil && len(audio) == 0 {
		err = ErrNoAudio
	}
	if err != nil {
		s.metrics.RecordUnitSkipped("fetch_failed")
		s.logger.Warn().Err(err).Str("text", text).Msg("Synthesis failed")
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := s.player.Play(ctx, audio); err != nil {
		s.metrics.RecordUnitSkipped("play_failed")
		return fmt.Errorf("play: %w", err)
	}
	s.metrics.RecordUnitPlayed(0)
	return nil
}

// PlayAudio plays prerecorded audio through the virtual sink.
func (s *Synthesizer) PlayAudio(ctx context.Context, audio []byte) error {
	s.toVirtual(ctx)
	defer s.toLive(ctx)

	if err := s.player.Play(ctx, audio); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

func (s *Synthesizer) toVirtual(ctx context.Context) {
	if err := s.router.ToVirtual(ctx); err != nil {
		s.metrics.RecordRouteError("virtual")
		s.logger.Warn().Err(err).Msg("Failed to switch route to virtual sink")
	}
}

// toLive restores the live input even when ctx is already cancelled.
func (s *Synthesizer) toLive(ctx context.Context) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), routeRestoreTimeout)
	defer cancel()
	if err := s.router.ToLive(rctx); err != nil {
		s.metrics.RecordRouteError("live")
		s.logger.Warn().Err(err).Msg("Failed to switch route back to live input")
	}
}
