// Package tts converts text to audio through remote speech synthesis services.
//
// Every provider satisfies synth.Fetcher so it can be dropped into the ordered
// synthesizer directly or behind a Cache.
package tts

import "time"

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultWSURL   = "wss://api.elevenlabs.io/v1/text-to-speech"

	// ModelTurboV2_5 is the low latency English model.
	ModelTurboV2_5 = "eleven_turbo_v2_5"
	// ModelMultilingualV2 is the highest quality multilingual model.
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// Config configures the ElevenLabs clients.
type Config struct {
	APIKey  string
	VoiceID string
	ModelID string

	// BaseURL and WSURL override the service endpoints, mostly for tests.
	BaseURL string
	WSURL   string

	// OutputFormat is the provider output_format, e.g. mp3_44100_128 or pcm_16000.
	OutputFormat string

	Stability       float64
	SimilarityBoost float64

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns the defaults used when a field is unset.
func DefaultConfig() Config {
	return Config{
		ModelID:         ModelTurboV2_5,
		BaseURL:         defaultBaseURL,
		WSURL:           defaultWSURL,
		OutputFormat:    "mp3_44100_128",
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		RetryDelay:      500 * time.Millisecond,
	}
}

// Validate checks the fields every provider call needs.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.VoiceID == "" {
		return ErrNoVoiceID
	}
	return nil
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ModelID == "" {
		c.ModelID = d.ModelID
	}
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.WSURL == "" {
		c.WSURL = d.WSURL
	}
	if c.OutputFormat == "" {
		c.OutputFormat = d.OutputFormat
	}
	if c.Stability == 0 {
		c.Stability = d.Stability
	}
	if c.SimilarityBoost == 0 {
		c.SimilarityBoost = d.SimilarityBoost
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (c Config) voiceSettings() voiceSettings {
	return voiceSettings{Stability: c.Stability, SimilarityBoost: c.SimilarityBoost}
}
