// Package app wires the call pipeline together and owns its lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/config"
	"ai-call-presence-service/internal/events"
	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/logging"
	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/service/archive"
	"ai-call-presence-service/internal/service/audio"
	"ai-call-presence-service/internal/service/browser"
	"ai-call-presence-service/internal/service/journal"
	"ai-call-presence-service/internal/service/llm"
	"ai-call-presence-service/internal/service/recognize"
	"ai-call-presence-service/internal/service/stt"
	"ai-call-presence-service/internal/service/stt/google"
	"ai-call-presence-service/internal/service/stt/mock"
	"ai-call-presence-service/internal/service/stt/whisper"
	"ai-call-presence-service/internal/service/synth"
	"ai-call-presence-service/internal/service/transcript"
	"ai-call-presence-service/internal/service/tts"
)

// SelfSpeaker labels our own utterances in the durable transcript.
const SelfSpeaker = "Me"

var (
	// ErrReplyDisabled is returned by Reply when no chat client is configured.
	ErrReplyDisabled = errors.New("app: reply disabled, no chat client configured")
	// ErrNothingToSay is returned when the text has no speakable units.
	ErrNothingToSay = errors.New("app: nothing to say")
)

// Publisher sends pipeline events downstream.
type Publisher interface {
	PublishTranscriptChange(ctx context.Context, ev models.TranscriptChanged) error
	PublishRecognition(ctx context.Context, ev models.Recognition) error
	Close() error
}

// Archive persists the session transcript.
type Archive interface {
	StartSession(ctx context.Context, sessionID string, at time.Time) error
	EndSession(ctx context.Context, sessionID string, at time.Time) error
	SaveTranscript(ctx context.Context, sessionID string, items []models.TranscriptItem) error
	SaveRecognition(ctx context.Context, r models.Recognition) error
	Close() error
}

// Chat produces reply text.
type Chat interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
	Stream(ctx context.Context, messages []llm.Message) (*llm.TokenStream, error)
}

// Deps are the external collaborators of the pipeline. A nil Source disables
// capture, a nil Captions disables caption polling, a nil Chat disables
// replies and a nil Archive disables archiving.
type Deps struct {
	STT       stt.Recognizer
	Source    audio.Source
	Fetcher   synth.Fetcher
	Player    synth.Player
	Router    synth.Router
	Captions  browser.Driver
	Chat      Chat
	Publisher Publisher
	Archive   Archive

	// cleanup runs on Shutdown after the deps above are closed.
	cleanup []func(context.Context) error
}

// Application holds the pipeline for one call session.
type Application struct {
	StartupTime time.Time
	SessionID   string
	Logger      zerolog.Logger
	Cfg         *config.Config

	deps       Deps
	store      *transcript.Store
	synth      *synth.Synthesizer
	recognizer *recognize.Recognizer
	capturer   *audio.Capturer
	poller     *browser.CaptionPoller

	sessionLog *journal.SessionLog
	latest     *journal.Buffer
	durable    *journal.Transcript

	subMu       sync.RWMutex
	subscribers map[int]func(transcript.Change)
	nextSub     int

	// speaking serializes say, reply and play so utterances never overlap.
	speaking sync.Mutex
	ready    atomic.Bool
	metrics  *metrics.Metrics
}

// New builds every collaborator from configuration and assembles the pipeline.
// ctx bounds the capture process, so it should live as long as the service.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	sessionLog, err := journal.OpenSessionLog(cfg.Journal.SessionLog)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	}, sessionLog)

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		sessionLog.Close()
		return nil, err
	}
	a, err := assemble(cfg, deps, sessionLog)
	if err != nil {
		closeDeps(context.Background(), deps)
		sessionLog.Close()
		return nil, err
	}
	return a, nil
}

// NewWithDeps assembles the pipeline around the given collaborators. The
// process logger is left as it is.
func NewWithDeps(cfg *config.Config, deps Deps) (*Application, error) {
	sessionLog, err := journal.OpenSessionLog(cfg.Journal.SessionLog)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	a, err := assemble(cfg, deps, sessionLog)
	if err != nil {
		sessionLog.Close()
		return nil, err
	}
	return a, nil
}

func assemble(cfg *config.Config, deps Deps, sessionLog *journal.SessionLog) (*Application, error) {
	if deps.STT == nil || deps.Fetcher == nil || deps.Player == nil {
		return nil, errors.New("app: recognizer, fetcher and player are required")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.New(nil)
	}

	latest, err := journal.NewBuffer(cfg.Journal.Latest)
	if err != nil {
		return nil, fmt.Errorf("open latest transcript: %w", err)
	}
	durable, err := journal.OpenTranscript(cfg.Journal.Transcript)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	sessionID := cfg.Service.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a := &Application{
		SessionID:   sessionID,
		Cfg:         cfg,
		deps:        deps,
		sessionLog:  sessionLog,
		latest:      latest,
		durable:     durable,
		subscribers: make(map[int]func(transcript.Change)),
		metrics:     metrics.DefaultMetrics,
	}
	a.Logger = log.With().
		Str("service", "ai-call-presence-service").
		Str("component", "application").
		Str("sessionId", sessionID).
		Logger()

	a.store = transcript.NewStore(transcript.WithObserver(a.onTranscriptChange))

	synthOpts := []synth.Option{
		synth.WithMaxConcurrency(cfg.Synth.MaxConcurrency),
		synth.WithLogger(logging.WithSession(sessionID).With().Str("component", "synth").Logger()),
	}
	if deps.Router != nil {
		synthOpts = append(synthOpts, synth.WithRouter(deps.Router))
	}
	a.synth = synth.New(deps.Fetcher, deps.Player, synthOpts...)

	a.recognizer = recognize.New(deps.STT, recognize.SinkFunc(a.onRecognized), recognize.Config{
		Mode:                recognize.Mode(cfg.Recognizer.Mode),
		WindowSize:          cfg.Recognizer.WindowSize,
		AccumulateThreshold: cfg.Recognizer.AccumulateThreshold,
		RequestTimeout:      cfg.STT.RequestTimeout,
		Source:              cfg.Recognizer.Source,
	})

	if deps.Source != nil {
		a.capturer = audio.NewCapturerWithLimits(deps.Source, audio.CaptureLimits{
			MaxAudioBytes: cfg.Audio.MaxAudioBytes,
			MaxDuration:   cfg.Audio.MaxDuration,
		})
	}
	if deps.Captions != nil {
		a.poller = browser.NewCaptionPoller(deps.Captions, a.store, browser.PollerConfig{
			Interval: cfg.Browser.PollInterval,
			Last:     cfg.Browser.CaptionLast,
		})
	}

	a.Logger.Info().
		Str("stt", cfg.STT.Provider).
		Str("tts", cfg.TTS.Provider).
		Str("mode", cfg.Recognizer.Mode).
		Bool("capture", a.capturer != nil).
		Bool("captions", a.poller != nil).
		Bool("reply", deps.Chat != nil).
		Bool("archive", deps.Archive != nil).
		Msg("Call presence application created")
	sessionLog.Printf("session %s created", sessionID)
	return a, nil
}

// buildDeps creates the configured providers.
func buildDeps(ctx context.Context, cfg *config.Config) (deps Deps, err error) {
	defer func() {
		if err != nil {
			closeDeps(context.Background(), deps)
		}
	}()

	switch cfg.STT.Provider {
	case "google":
		g, err := google.New(ctx, google.Config{
			LanguageCode:  cfg.STT.LanguageCode,
			SampleRateHz:  int32(cfg.STT.SampleRateHz),
			AudioEncoding: cfg.STT.AudioEncoding,
			Model:         cfg.STT.Model,
		}, metrics.DefaultMetrics)
		if err != nil {
			return deps, err
		}
		deps.STT = g
	case "whisper":
		lang, _, _ := strings.Cut(cfg.STT.LanguageCode, "-")
		deps.STT = whisper.New(whisper.Config{
			BaseURL:  cfg.STT.WhisperURL,
			APIKey:   cfg.STT.WhisperAPIKey,
			Model:    cfg.STT.WhisperModel,
			Language: lang,
			Timeout:  cfg.STT.RequestTimeout,
		})
	default:
		deps.STT = mock.New()
	}

	deps.Fetcher, err = newFetcher(cfg.TTS)
	if err != nil {
		return deps, err
	}
	deps.Player = audio.NewCommandPlayer(cfg.Audio.PlayerCommand, cfg.Audio.PlayerArgs...)

	if cfg.Audio.CaptureCommand != "" {
		format := audio.Format{SampleRate: cfg.STT.SampleRateHz, SampleWidth: cfg.Audio.SampleWidth, Channels: 1}
		chunkBytes := int(int64(format.BytesPerSecond()) * int64(cfg.Audio.ChunkDuration) / int64(time.Second))
		src, err := audio.StartCommandSource(ctx, format, chunkBytes, cfg.Audio.ListenTimeout,
			cfg.Audio.CaptureCommand, cfg.Audio.CaptureArgs...)
		if err != nil {
			return deps, err
		}
		deps.Source = src
	}

	if cfg.Browser.Enabled {
		wd, err := browser.Attach(ctx, cfg.Browser.WebDriverURL, cfg.Browser.DebuggerAddress)
		if err != nil {
			return deps, fmt.Errorf("attach browser: %w", err)
		}
		deps.cleanup = append(deps.cleanup, wd.Close)

		ui := browser.NewUI(wd, browser.Selectors{
			Caption:     cfg.Browser.CaptionXPath,
			Speaker:     cfg.Browser.SpeakerXPath,
			Text:        cfg.Browser.TextXPath,
			IDAttribute: cfg.Browser.IDAttribute,
		})
		rc := browser.DefaultRouterConfig()
		rc.VirtualLabel = cfg.Browser.VirtualLabel
		rc.LiveLabel = cfg.Browser.LiveLabel
		rc.Fallback = cfg.Browser.FallbackLabels
		deps.Router = browser.NewRouter(ui, rc)
		deps.Captions = ui
	}

	if cfg.LLM.APIKey != "" {
		deps.Chat = llm.New(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
	} else {
		log.Warn().Msg("No LLM API key configured, reply is disabled")
	}

	deps.Publisher = events.New(&events.Config{
		Brokers:          cfg.Kafka.Brokers,
		TopicTranscript:  cfg.Kafka.TopicTranscript,
		TopicRecognition: cfg.Kafka.TopicRecognition,
		Principal:        cfg.Kafka.Principal,
		Enabled:          cfg.Kafka.Enabled,
	})

	if cfg.Archive.Path != "" {
		repo, err := archive.Open(ctx, cfg.Archive.Path)
		if err != nil {
			return deps, err
		}
		deps.Archive = repo
	}
	return deps, nil
}

func newFetcher(cfg config.TTSConfig) (synth.Fetcher, error) {
	tc := tts.DefaultConfig()
	tc.APIKey = cfg.APIKey
	tc.VoiceID = cfg.VoiceID
	tc.ModelID = cfg.ModelID
	tc.OutputFormat = cfg.OutputFormat
	tc.Timeout = cfg.Timeout

	var (
		f   synth.Fetcher
		err error
	)
	switch cfg.Provider {
	case "elevenlabs":
		f, err = tts.NewElevenLabs(tc)
	case "elevenlabs_ws":
		f, err = tts.NewStreamClient(tc)
	default:
		return tts.NewMock(0), nil
	}
	if err != nil {
		return nil, tts.WrapError(cfg.Provider, err)
	}
	if cfg.CacheEntries <= 0 {
		return f, nil
	}
	namespace := strings.Join([]string{cfg.Provider, cfg.VoiceID, cfg.ModelID, cfg.OutputFormat}, "/")
	return tts.NewCache(f, namespace, cfg.CacheEntries), nil
}

func closeDeps(ctx context.Context, deps Deps) error {
	var errs []error
	if deps.Source != nil {
		errs = append(errs, deps.Source.Close())
	}
	if deps.STT != nil {
		errs = append(errs, deps.STT.Close())
	}
	if deps.Publisher != nil {
		errs = append(errs, deps.Publisher.Close())
	}
	if deps.Archive != nil {
		errs = append(errs, deps.Archive.Close())
	}
	for _, fn := range deps.cleanup {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Store returns the live transcript.
func (a *Application) Store() *transcript.Store {
	return a.store
}

// Ready reports whether the pipeline workers are running.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Subscribe registers fn for every transcript change. The returned function
// removes it.
func (a *Application) Subscribe(fn func(transcript.Change)) (unsubscribe func()) {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subscribers[id] = fn
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subscribers, id)
		a.subMu.Unlock()
	}
}

// Shutdown closes every collaborator and journal file. Errors are logged.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	if err := closeDeps(ctx, a.deps); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Error closing pipeline collaborators")
	}
	a.sessionLog.Printf("session %s ended", a.SessionID)
	if err := errors.Join(a.durable.Close(), a.sessionLog.Close()); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Error closing journal")
	}

	shutdownLogger.Info().Msg("Call presence application shut down")
}
