package browser

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/service/transcript"
)

// PollerConfig controls caption polling.
type PollerConfig struct {
	Interval  time.Duration
	Last      int
	RetryWait time.Duration
}

// DefaultPollerConfig polls the last 5 captions every 500ms.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Interval: 500 * time.Millisecond, Last: 5, RetryWait: 2 * time.Second}
}

// CaptionPoller copies captions from the UI into the transcript. UI failures
// are transient: it waits and tries again until the context ends.
type CaptionPoller struct {
	driver  Driver
	store   *transcript.Store
	cfg     PollerConfig
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewCaptionPoller creates a poller writing into store.
func NewCaptionPoller(d Driver, store *transcript.Store, cfg PollerConfig) *CaptionPoller {
	def := DefaultPollerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Last <= 0 {
		cfg.Last = def.Last
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = def.RetryWait
	}
	return &CaptionPoller{
		driver:  d,
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		logger:  log.With().Str("component", "captions").Logger(),
		metrics: metrics.DefaultMetrics,
	}
}

// Run polls until ctx is done. It always returns nil.
func (p *CaptionPoller) Run(ctx context.Context) error {
	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Int("last", p.cfg.Last).
		Msg("Caption polling started")

	for {
		wait := p.cfg.Interval
		if err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn().Err(err).Dur("retryIn", p.cfg.RetryWait).Msg("Caption poll failed")
			wait = p.cfg.RetryWait
		}

		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Caption polling stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// Poll reads the latest captions once and writes them.
func (p *CaptionPoller) Poll(ctx context.Context) error {
	captions, err := p.driver.Captions(ctx, p.cfg.Last)
	p.metrics.RecordCaptionPoll(err)
	if err != nil {
		return err
	}

	ts := p.now()
	for _, c := range captions {
		result := p.store.Write(c.ID, ts, c.Speaker, c.Text)
		if result != transcript.Unchanged {
			p.logger.Debug().Str("id", c.ID).Str("result", result.String()).Msg("Caption written")
		}
	}
	return nil
}
