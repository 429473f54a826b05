// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration, grouped by component.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Recognizer    RecognizerConfig
	Audio         AudioConfig
	TTS           TTSConfig
	Synth         SynthConfig
	LLM           LLMConfig
	Browser       BrowserConfig
	Journal       JournalConfig
	Kafka         KafkaConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal string
	HTTPPort  string
	// SessionID names the call session. Empty means a generated id.
	SessionID string
}

type STTConfig struct {
	Provider       string // mock, google, whisper
	LanguageCode   string
	SampleRateHz   int
	AudioEncoding  string
	Model          string
	RequestTimeout time.Duration

	WhisperURL    string
	WhisperAPIKey string
	WhisperModel  string
}

type RecognizerConfig struct {
	Mode                string // sliding, accumulate
	WindowSize          int
	AccumulateThreshold time.Duration
	Source              string
}

type AudioConfig struct {
	CaptureCommand string
	CaptureArgs    []string
	SampleWidth    int
	ChunkDuration  time.Duration
	ListenTimeout  time.Duration
	MaxAudioBytes  int64
	MaxDuration    time.Duration

	PlayerCommand string
	PlayerArgs    []string
	// PlayFile is the prerecorded clip played by the play operation.
	PlayFile string
}

type TTSConfig struct {
	Provider     string // elevenlabs, elevenlabs_ws, mock
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration
	CacheEntries int
}

type SynthConfig struct {
	MaxConcurrency int
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Persona     string
	Context     string
	Stream      bool
	RecentItems int
	Timeout     time.Duration
}

type BrowserConfig struct {
	Enabled         bool
	WebDriverURL    string
	DebuggerAddress string
	VirtualLabel    string
	LiveLabel       string
	FallbackLabels  []string
	CaptionXPath    string
	SpeakerXPath    string
	TextXPath       string
	IDAttribute     string
	PollInterval    time.Duration
	CaptionLast     int
}

type JournalConfig struct {
	SessionLog string
	Latest     string
	Transcript string
}

type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TopicTranscript  string
	TopicRecognition string
	Principal        string
}

type ArchiveConfig struct {
	// Path of the SQLite database. Empty disables the archive.
	Path     string
	Interval time.Duration
}

type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// LoadDotEnv loads variables from env files without overriding the process
// environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Load reads the configuration from environment variables, falling back to
// defaults for unset or unparsable values.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-presence")
	sampleRate := envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000)

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
			SessionID: envOrDefault("SESSION_ID", ""),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   sampleRate,
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:          envOrDefault("STT_MODEL", ""),
			RequestTimeout: envOrDefaultDuration("STT_REQUEST_TIMEOUT", 30*time.Second),
			WhisperURL:     envOrDefault("WHISPER_URL", "https://api.openai.com/v1"),
			WhisperAPIKey:  envOrDefault("WHISPER_API_KEY", os.Getenv("OPENAI_API_KEY")),
			WhisperModel:   envOrDefault("WHISPER_MODEL", "whisper-1"),
		},
		Recognizer: RecognizerConfig{
			Mode:                envOrDefault("RECOGNIZER_MODE", "sliding"),
			WindowSize:          envOrDefaultInt("RECOGNIZER_WINDOW_SIZE", 2),
			AccumulateThreshold: envOrDefaultDuration("RECOGNIZER_ACCUMULATE_THRESHOLD", 10*time.Second),
			Source:              envOrDefault("RECOGNIZER_SOURCE", "mic"),
		},
		Audio: AudioConfig{
			CaptureCommand: envOrDefault("AUDIO_CAPTURE_COMMAND", "arecord"),
			CaptureArgs: envOrDefaultList("AUDIO_CAPTURE_ARGS",
				[]string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", strconv.Itoa(sampleRate)}),
			SampleWidth:   envOrDefaultInt("AUDIO_SAMPLE_WIDTH", 2),
			ChunkDuration: envOrDefaultDuration("AUDIO_CHUNK_DURATION", time.Second),
			ListenTimeout: envOrDefaultDuration("AUDIO_LISTEN_TIMEOUT", 5*time.Second),
			MaxAudioBytes: envOrDefaultInt64("AUDIO_MAX_BYTES", 2*1024*1024*1024),
			MaxDuration:   envOrDefaultDuration("AUDIO_MAX_DURATION", 8*time.Hour),
			PlayerCommand: envOrDefault("AUDIO_PLAYER_COMMAND", "ffplay"),
			PlayerArgs: envOrDefaultList("AUDIO_PLAYER_ARGS",
				[]string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-i", "-"}),
			PlayFile: envOrDefault("AUDIO_PLAY_FILE", "recording.m4a"),
		},
		TTS: TTSConfig{
			Provider:     envOrDefault("TTS_PROVIDER", "mock"),
			APIKey:       envOrDefault("ELEVENLABS_API_KEY", ""),
			VoiceID:      envOrDefault("ELEVENLABS_VOICE_ID", ""),
			ModelID:      envOrDefault("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
			OutputFormat: envOrDefault("ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),
			Timeout:      envOrDefaultDuration("TTS_TIMEOUT", 30*time.Second),
			CacheEntries: envOrDefaultInt("TTS_CACHE_ENTRIES", 256),
		},
		Synth: SynthConfig{
			MaxConcurrency: envOrDefaultInt("SYNTH_MAX_CONCURRENCY", 5),
		},
		LLM: LLMConfig{
			BaseURL:     envOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      envOrDefault("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:       envOrDefault("LLM_MODEL", "gpt-4o-mini"),
			Persona:     envOrDefault("LLM_PERSONA", ""),
			Context:     envOrDefault("LLM_CONTEXT", ""),
			Stream:      envOrDefaultBool("LLM_STREAM", true),
			RecentItems: envOrDefaultInt("LLM_RECENT_ITEMS", 20),
			Timeout:     envOrDefaultDuration("LLM_TIMEOUT", 30*time.Second),
		},
		Browser: BrowserConfig{
			Enabled:         envOrDefaultBool("BROWSER_ENABLED", false),
			WebDriverURL:    envOrDefault("WEBDRIVER_URL", "http://localhost:9515"),
			DebuggerAddress: envOrDefault("CHROME_DEBUGGER_ADDRESS", "127.0.0.1:9222"),
			VirtualLabel:    envOrDefault("ROUTE_VIRTUAL_LABEL", "CABLE Output"),
			LiveLabel:       envOrDefault("ROUTE_LIVE_LABEL", "Microphone Array"),
			FallbackLabels:  envOrDefaultList("ROUTE_FALLBACK_LABELS", nil),
			CaptionXPath:    envOrDefault("CAPTION_XPATH", "//div[contains(@class,'caption')]"),
			SpeakerXPath:    envOrDefault("CAPTION_SPEAKER_XPATH", ".//*[contains(@class,'speaker')]"),
			TextXPath:       envOrDefault("CAPTION_TEXT_XPATH", ".//*[contains(@class,'text')]"),
			IDAttribute:     envOrDefault("CAPTION_ID_ATTRIBUTE", "data-id"),
			PollInterval:    envOrDefaultDuration("CAPTION_POLL_INTERVAL", 500*time.Millisecond),
			CaptionLast:     envOrDefaultInt("CAPTION_LAST", 5),
		},
		Journal: JournalConfig{
			SessionLog: envOrDefault("JOURNAL_SESSION_LOG", "journal/session.log"),
			Latest:     envOrDefault("JOURNAL_LATEST", "journal/latest.txt"),
			Transcript: envOrDefault("JOURNAL_TRANSCRIPT", "journal/transcript.txt"),
		},
		Kafka: KafkaConfig{
			Enabled:          envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:          envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicTranscript:  envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "call.transcript.v1"),
			TopicRecognition: envOrDefault("KAFKA_TOPIC_RECOGNITION", "call.recognition.v1"),
			Principal:        envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Archive: ArchiveConfig{
			Path:     envOrDefault("ARCHIVE_PATH", ""),
			Interval: envOrDefaultDuration("ARCHIVE_INTERVAL", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

// Error lists every configuration problem found at startup.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

// Validate returns a *Error when a required setting is missing or a value is
// out of range.
func (c *Config) Validate() error {
	var p []string

	switch c.STT.Provider {
	case "mock", "google":
	case "whisper":
		if c.STT.WhisperURL == "" {
			p = append(p, "WHISPER_URL is required for the whisper provider")
		}
	default:
		p = append(p, "STT_PROVIDER must be mock, google or whisper")
	}

	switch c.Recognizer.Mode {
	case "sliding", "accumulate":
	default:
		p = append(p, "RECOGNIZER_MODE must be sliding or accumulate")
	}
	if c.Recognizer.WindowSize < 1 {
		p = append(p, "RECOGNIZER_WINDOW_SIZE must be at least 1")
	}
	if c.Audio.ChunkDuration <= 0 {
		p = append(p, "AUDIO_CHUNK_DURATION must be positive")
	}

	switch c.TTS.Provider {
	case "mock":
	case "elevenlabs", "elevenlabs_ws":
		if c.TTS.APIKey == "" {
			p = append(p, "ELEVENLABS_API_KEY is required")
		}
		if c.TTS.VoiceID == "" {
			p = append(p, "ELEVENLABS_VOICE_ID is required")
		}
	default:
		p = append(p, "TTS_PROVIDER must be elevenlabs, elevenlabs_ws or mock")
	}

	if c.Synth.MaxConcurrency < 1 {
		p = append(p, "SYNTH_MAX_CONCURRENCY must be at least 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		p = append(p, "KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.Browser.Enabled && c.Browser.WebDriverURL == "" {
		p = append(p, "WEBDRIVER_URL is required when BROWSER_ENABLED is set")
	}

	if len(p) > 0 {
		return &Error{Problems: p}
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma separated value. Blank entries are dropped.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
