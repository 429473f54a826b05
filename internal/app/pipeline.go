package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/service/audio"
	"ai-call-presence-service/internal/service/recognize"
	"ai-call-presence-service/internal/service/transcript"
)

const (
	publishTimeout  = 5 * time.Second
	archiveTimeout  = 10 * time.Second
	chunkBufferSize = 16
)

// Run starts the pipeline workers and blocks until ctx is done or a worker
// fails. Capture, recognition, caption polling and archiving run as one
// errgroup; a failed worker cancels the rest.
func (a *Application) Run(ctx context.Context) error {
	runLogger := a.Logger.With().
		Str("method", "Run").
		Logger()

	a.StartupTime = time.Now().UTC()
	if a.deps.Archive != nil {
		if err := a.deps.Archive.StartSession(ctx, a.SessionID, a.StartupTime); err != nil {
			return fmt.Errorf("archive session: %w", err)
		}
	}

	a.ready.Store(true)
	g, gctx := errgroup.WithContext(ctx)

	if a.capturer != nil {
		chunks := make(chan models.AudioChunk, chunkBufferSize)
		g.Go(func() error {
			err := a.capturer.Run(gctx, chunks)
			switch {
			case errors.Is(err, audio.ErrLimitExceeded):
				runLogger.Warn().Err(err).Msg("Capture limit reached, recognition stopped")
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			}
			return err
		})
		g.Go(func() error {
			return a.recognizer.Run(gctx, chunks)
		})
	}
	if a.poller != nil {
		g.Go(func() error {
			return a.poller.Run(gctx)
		})
	}
	if a.deps.Archive != nil {
		g.Go(func() error {
			a.archiveLoop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Call presence pipeline running")

	err := g.Wait()
	a.ready.Store(false)

	if a.deps.Archive != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		a.archiveSnapshot(actx)
		if err := a.deps.Archive.EndSession(actx, a.SessionID, time.Now().UTC()); err != nil {
			runLogger.Warn().Err(err).Msg("Failed to close archived session")
		}
		cancel()
	}

	runLogger.Info().Msg("Call presence pipeline stopped")
	return err
}

func (a *Application) archiveLoop(ctx context.Context) {
	interval := a.Cfg.Archive.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.archiveSnapshot(ctx)
		}
	}
}

func (a *Application) archiveSnapshot(ctx context.Context) {
	items := a.store.ReadAll()
	if err := a.deps.Archive.SaveTranscript(ctx, a.SessionID, items); err != nil {
		a.Logger.Warn().Err(err).Int("items", len(items)).Msg("Failed to archive transcript")
		return
	}
	a.Logger.Debug().Int("items", len(items)).Msg("Transcript archived")
}

// onTranscriptChange publishes store changes and fans them out to subscribers.
// It runs on the writer's goroutine after the store lock is released.
func (a *Application) onTranscriptChange(ch transcript.Change) {
	eventType := models.EventTranscriptUpdated
	if ch.Result == transcript.Created {
		eventType = models.EventTranscriptCreated
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err := a.deps.Publisher.PublishTranscriptChange(ctx, models.TranscriptChanged{
		EventType: eventType,
		SessionID: a.SessionID,
		ItemID:    ch.Item.ID,
		Speaker:   ch.Item.Speaker,
		Content:   ch.Item.Content,
		Timestamp: ch.Item.Timestamp.UnixMilli(),
		Revision:  ch.Revision,
	})
	if err != nil {
		a.Logger.Warn().Err(err).Str("itemId", ch.Item.ID).Msg("Failed to publish transcript change")
	}

	a.subMu.RLock()
	subs := make([]func(transcript.Change), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subs = append(subs, fn)
	}
	a.subMu.RUnlock()

	for _, fn := range subs {
		fn(ch)
	}
}

// onRecognized records a recognition in the store, the journal, the event
// stream and the archive. Sliding windows overlap, so they only feed the
// volatile "latest" buffer; accumulated spans are disjoint and go to the
// durable transcript.
func (a *Application) onRecognized(ctx context.Context, r recognize.Result) {
	speaker := a.Cfg.Recognizer.Source
	a.store.Write(r.SegmentID, r.At, speaker, r.Text)

	var err error
	if r.Mode == recognize.ModeAccumulate {
		err = a.durable.Append(speaker, r.Text)
	} else {
		err = a.latest.Append(r.Text)
	}
	if err != nil {
		a.Logger.Warn().Err(err).Str("segmentId", r.SegmentID).Msg("Failed to journal recognition")
	}

	ev := models.Recognition{
		EventType:  models.EventRecognition,
		SessionID:  a.SessionID,
		SegmentID:  r.SegmentID,
		Mode:       string(r.Mode),
		FirstIndex: r.FirstIndex,
		LastIndex:  r.LastIndex,
		Text:       r.Text,
		Timestamp:  r.At.UnixMilli(),
	}
	if err := a.deps.Publisher.PublishRecognition(ctx, ev); err != nil {
		a.Logger.Warn().Err(err).Str("segmentId", r.SegmentID).Msg("Failed to publish recognition")
	}
	if a.deps.Archive != nil {
		if err := a.deps.Archive.SaveRecognition(ctx, ev); err != nil {
			a.Logger.Warn().Err(err).Str("segmentId", r.SegmentID).Msg("Failed to archive recognition")
		}
	}
}
