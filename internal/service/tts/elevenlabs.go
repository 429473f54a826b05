package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/observability/metrics"
)

const providerElevenLabs = "elevenlabs"

// ElevenLabs requests complete audio for a text over the REST API.
type ElevenLabs struct {
	cfg     Config
	client  *http.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewElevenLabs creates a REST client. Zero fields in cfg take their defaults.
func NewElevenLabs(cfg Config) (*ElevenLabs, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	return &ElevenLabs{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  log.With().Str("component", "tts.elevenlabs").Logger(),
		metrics: metrics.DefaultMetrics,
	}, nil
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Fetch returns the encoded audio for text.
func (e *ElevenLabs) Fetch(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()

	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       e.cfg.ModelID,
		VoiceSettings: e.cfg.voiceSettings(),
	})
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		e.cfg.BaseURL, url.PathEscape(e.cfg.VoiceID), url.QueryEscape(e.cfg.OutputFormat))

	resp, err := e.doWithRetry(ctx, endpoint, body)
	e.metrics.RecordTTSRequest(providerElevenLabs, err)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}

	e.logger.Debug().
		Int("chars", len(text)).
		Int("bytes", len(audio)).
		Dur("latency", time.Since(start)).
		Str("model", e.cfg.ModelID).
		Msg("Synthesized audio")

	return audio, nil
}

// doWithRetry posts body, retrying transport errors, 429 and 5xx with a linear backoff.
func (e *ElevenLabs) doWithRetry(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(providerElevenLabs, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("xi-api-key", e.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")

		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(providerElevenLabs, err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		apiErr := parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		e.logger.Warn().
			Int("attempt", attempt+1).
			Int("status", apiErr.StatusCode).
			Msg("Retrying synthesis request")
	}

	return nil, lastErr
}

// parseError reads the body of a failed response into an APIError.
func parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerElevenLabs,
	}
}

// Close releases idle connections.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
