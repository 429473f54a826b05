// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/observability/metrics"
)

const defaultBaseURL = "https://api.openai.com/v1"

var (
	// ErrNoAPIKey is returned when the client has no credentials.
	ErrNoAPIKey = errors.New("llm: api key missing")
	// ErrEmptyChoices is returned when the service answers with no choices.
	ErrEmptyChoices = errors.New("llm: empty choices")
)

// StatusError is a non-2xx response from the completion service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status=%d body=%s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// New creates a client. An empty BaseURL targets the OpenAI API.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.With().Str("component", "llm").Logger(),
		metrics:    metrics.DefaultMetrics,
	}
}

type chatCompletionsRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete returns the whole completion as one block.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	answer, err := c.complete(ctx, messages)
	c.metrics.RecordLLMRequest("complete", err, time.Since(start).Seconds())
	return answer, err
}

func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", ErrEmptyChoices
	}
	answer := strings.TrimSpace(cr.Choices[0].Message.Content)

	c.logger.Debug().
		Str("model", cr.Model).
		Int("chars", len(answer)).
		Msg("Completion received")
	return answer, nil
}

// TokenStream delivers streamed completion tokens. Err is valid once Tokens is closed.
type TokenStream struct {
	tokens chan string
	err    error
}

// Tokens returns the token channel. It is closed when the stream ends.
func (s *TokenStream) Tokens() <-chan string {
	return s.tokens
}

// Err returns the error that ended the stream, if any.
func (s *TokenStream) Err() error {
	return s.err
}

// Stream starts a streamed completion. Request and status errors are returned
// directly; errors while reading are reported by Err after Tokens closes.
func (c *Client) Stream(ctx context.Context, messages []Message) (*TokenStream, error) {
	start := time.Now()
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		c.metrics.RecordLLMRequest("stream", err, time.Since(start).Seconds())
		return nil, err
	}

	s := &TokenStream{tokens: make(chan string)}
	go func() {
		defer resp.Body.Close()
		defer close(s.tokens)
		s.err = c.readEvents(ctx, resp.Body, s.tokens)
		c.metrics.RecordLLMRequest("stream", s.err, time.Since(start).Seconds())
	}()
	return s, nil
}

// readEvents parses server-sent events until the [DONE] marker.
func (c *Client) readEvents(ctx context.Context, body io.Reader, out chan<- string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var delta chatDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping malformed stream event")
			continue
		}
		for _, choice := range delta.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			select {
			case out <- choice.Delta.Content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("llm: read stream: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	body, err := json.Marshal(chatCompletionsRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}
