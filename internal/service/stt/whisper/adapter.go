// Package whisper provides an stt.Recognizer for OpenAI-compatible
// audio transcription endpoints.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/service/audio"
	"ai-call-presence-service/internal/service/stt"
)

const (
	provider       = "whisper"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
)

// Config holds endpoint settings.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Adapter implements stt.Recognizer over HTTP.
type Adapter struct {
	config  Config
	client  *http.Client
	metrics *metrics.Metrics
}

// New creates a new Whisper recognizer.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Adapter{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: metrics.DefaultMetrics,
	}
}

// Recognize uploads the span as a WAV file and returns the transcript text.
func (a *Adapter) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	wav := audio.EncodeWAV(req.Audio, audio.Format{
		SampleRate:  req.SampleRate,
		SampleWidth: req.SampleWidth,
		Channels:    1,
	})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("model", a.config.Model)
	mw.WriteField("response_format", "json")
	if a.config.Language != "" {
		mw.WriteField("language", a.config.Language)
	}
	part, err := mw.CreateFormFile("file", fmt.Sprintf("chunks-%d-%d.wav", req.FirstIndex, req.LastIndex))
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	a.metrics.RecordSTTCall(provider, "transcriptions", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return stt.Result{}, err
		}
		a.metrics.RecordSTTError(provider, "service_error")
		return stt.Result{}, fmt.Errorf("whisper: %v: %w", err, stt.ErrServiceError)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		a.metrics.RecordSTTError(provider, "service_error")
		return stt.Result{}, fmt.Errorf("whisper: status=%d body=%s: %w", resp.StatusCode, strings.TrimSpace(string(b)), stt.ErrServiceError)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		a.metrics.RecordSTTError(provider, "service_error")
		return stt.Result{}, fmt.Errorf("whisper: decode response: %v: %w", err, stt.ErrServiceError)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		a.metrics.RecordSTTError(provider, "not_understood")
		return stt.Result{}, fmt.Errorf("whisper: empty transcript for chunks %d-%d: %w", req.FirstIndex, req.LastIndex, stt.ErrNotUnderstood)
	}
	return stt.Result{Text: text, Confidence: 1}, nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
