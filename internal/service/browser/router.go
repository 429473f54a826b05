package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RouterConfig names the controls that switch the call microphone.
type RouterConfig struct {
	// VirtualLabel selects the synthetic audio device, e.g. "CABLE Output".
	VirtualLabel string
	// LiveLabel selects the real microphone, e.g. "Microphone Array".
	LiveLabel string
	// Fallback is clicked in order when a device control is not visible,
	// typically the buttons that open the microphone menu.
	Fallback []string
	Attempts int
	Wait     time.Duration
}

// DefaultRouterConfig returns the device names used by a VB-Cable setup.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		VirtualLabel: "CABLE Output",
		LiveLabel:    "Microphone Array",
		Attempts:     3,
		Wait:         500 * time.Millisecond,
	}
}

// Router switches the call microphone between the virtual cable and the live
// microphone by clicking controls in the UI. It satisfies synth.Router.
type Router struct {
	driver Driver
	cfg    RouterConfig
	logger zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(d Driver, cfg RouterConfig) *Router {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Router{
		driver: d,
		cfg:    cfg,
		logger: log.With().Str("component", "router").Logger(),
	}
}

// ToVirtual selects the synthetic audio device.
func (r *Router) ToVirtual(ctx context.Context) error {
	return r.selectDevice(ctx, r.cfg.VirtualLabel)
}

// ToLive selects the real microphone.
func (r *Router) ToLive(ctx context.Context) error {
	return r.selectDevice(ctx, r.cfg.LiveLabel)
}

// selectDevice clicks label directly and, when it is not visible, walks the
// fallback path first. Clicking an already selected device is harmless.
func (r *Router) selectDevice(ctx context.Context, label string) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.Wait):
			}
		}

		err := r.driver.ClickLabel(ctx, label)
		if err == nil {
			r.logger.Debug().Str("device", label).Msg("Audio route switched")
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrControlNotFound) {
			for _, nav := range r.cfg.Fallback {
				if err := r.driver.ClickLabel(ctx, nav); err != nil {
					r.logger.Debug().Err(err).Str("control", nav).Msg("Fallback control not clickable")
				}
			}
			lastErr = r.driver.ClickLabel(ctx, label)
			if lastErr == nil {
				r.logger.Debug().Str("device", label).Msg("Audio route switched through fallback")
				return nil
			}
		}

		r.logger.Warn().Err(lastErr).Str("device", label).Int("attempt", attempt+1).Msg("Route switch failed")
	}
	return fmt.Errorf("select %q: %w", label, lastErr)
}
