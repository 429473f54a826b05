package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/app"
	"ai-call-presence-service/internal/config"
	controlhttp "ai-call-presence-service/internal/http"
	"ai-call-presence-service/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	obs := observability.NewServer(":" + cfg.Observability.MetricsPort)
	obs.Start()

	hub := controlhttp.NewHub(application.Transcript)
	go hub.Run(ctx)
	application.Subscribe(hub.Observe)

	server := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           controlhttp.NewRouter(application, hub),
		ReadHeaderTimeout: 5 * time.Second,
		// Say and reply block until playback ends.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("control API failed")
			stop()
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(ctx) }()
	obs.SetReady(true)

	log.Info().
		Str("sessionId", application.SessionID).
		Str("httpPort", cfg.Service.HTTPPort).
		Str("metricsPort", cfg.Observability.MetricsPort).
		Msg("Call presence service started")

	exitCode := 0
	if err := <-runErr; err != nil {
		log.Error().Err(err).Msg("pipeline stopped with error")
		exitCode = 1
	}

	log.Info().Msg("shutting down")
	obs.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control API shutdown")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("observability server shutdown")
	}
	application.Shutdown(shutdownCtx)

	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
