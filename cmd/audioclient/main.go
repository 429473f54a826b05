// audioclient feeds a PCM WAV file through the recognizer and prints every
// recognized window. It is the offline counterpart of live capture.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ai-call-presence-service/internal/config"
	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/logging"
	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/service/audio"
	"ai-call-presence-service/internal/service/recognize"
	"ai-call-presence-service/internal/service/stt"
	"ai-call-presence-service/internal/service/stt/google"
	"ai-call-presence-service/internal/service/stt/mock"
	"ai-call-presence-service/internal/service/stt/whisper"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.Load()

	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit PCM)")
	provider := flag.String("stt", cfg.STT.Provider, "Recognizer: mock, google or whisper")
	mode := flag.String("mode", cfg.Recognizer.Mode, "Grouping: sliding or accumulate")
	window := flag.Int("window", cfg.Recognizer.WindowSize, "Sliding window size in chunks")
	threshold := flag.Duration("threshold", cfg.Recognizer.AccumulateThreshold, "Accumulate threshold")
	chunk := flag.Duration("chunk", cfg.Audio.ChunkDuration, "Chunk duration")
	realtime := flag.Bool("realtime", false, "Pace chunks at the audio's own rate")
	flag.Parse()

	logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := audio.OpenWAV(*audioFile, *chunk, *realtime)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer src.Close()

	format := src.Format()
	log.Info().
		Str("file", *audioFile).
		Int("sampleRate", format.SampleRate).
		Int("sampleWidth", format.SampleWidth).
		Int("channels", format.Channels).
		Msg("WAV file opened")

	recognizer, err := newRecognizer(ctx, *provider, cfg, format)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create recognizer")
	}
	defer recognizer.Close()

	var windows int
	sink := recognize.SinkFunc(func(_ context.Context, r recognize.Result) {
		windows++
		fmt.Printf("[%s] chunks %d-%d (%.1fs, conf %.2f): %s\n",
			r.SegmentID, r.FirstIndex, r.LastIndex, r.Audio.Seconds(), r.Confidence, strings.TrimSpace(r.Text))
	})

	rec := recognize.New(recognizer, sink, recognize.Config{
		Mode:                recognize.Mode(*mode),
		WindowSize:          *window,
		AccumulateThreshold: *threshold,
		RequestTimeout:      cfg.STT.RequestTimeout,
		Source:              "file",
	})

	chunks := make(chan models.AudioChunk, 16)
	capturer := audio.NewCapturerWithLimits(src, audio.CaptureLimits{})

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return capturer.Run(gctx, chunks) })
	g.Go(func() error { return rec.Run(gctx, chunks) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Recognition failed")
		os.Exit(1)
	}

	stats := capturer.Stats()
	log.Info().
		Int64("chunks", stats.Chunks).
		Int64("bytes", stats.AudioBytes).
		Int("windows", windows).
		Dur("elapsed", time.Since(start)).
		Msg("Finished")
}

func newRecognizer(ctx context.Context, provider string, cfg *config.Config, format audio.Format) (stt.Recognizer, error) {
	switch provider {
	case "google":
		return google.New(ctx, google.Config{
			LanguageCode:  cfg.STT.LanguageCode,
			SampleRateHz:  int32(format.SampleRate),
			AudioEncoding: "LINEAR16",
			Model:         cfg.STT.Model,
		}, metrics.DefaultMetrics)
	case "whisper":
		lang, _, _ := strings.Cut(cfg.STT.LanguageCode, "-")
		return whisper.New(whisper.Config{
			BaseURL:  cfg.STT.WhisperURL,
			APIKey:   cfg.STT.WhisperAPIKey,
			Model:    cfg.STT.WhisperModel,
			Language: lang,
			Timeout:  cfg.STT.RequestTimeout,
		}), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", provider)
	}
}
