package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/logging"
	"ai-call-presence-service/internal/service/llm"
	"ai-call-presence-service/internal/service/segment"
	"ai-call-presence-service/internal/service/synth"
)

// Utterance is the outcome of a say or reply operation.
type Utterance struct {
	Text   string
	Report synth.Report
}

// Transcript returns the ordered transcript snapshot.
func (a *Application) Transcript() []models.TranscriptItem {
	return a.store.ReadAll()
}

// Say speaks text into the call. It blocks until playback ends.
func (a *Application) Say(ctx context.Context, requestID, text string) (Utterance, error) {
	start := time.Now()
	units := segment.Split(text)
	if len(units) == 0 {
		return Utterance{}, ErrNothingToSay
	}
	a.metrics.RecordUnits("batch", len(units))

	a.speaking.Lock()
	defer a.speaking.Unlock()

	opLogger := logging.WithOperation(a.SessionID, "say", requestID)
	opLogger.Info().Int("units", len(units)).Msg("Speaking")

	report, err := a.synth.Speak(ctx, units)
	u := Utterance{Text: segment.Join(units), Report: report}
	a.finishUtterance("say", u, err, start)
	return u, err
}

// Reply asks the chat model what to say next and speaks it. The recent
// transcript and everything heard since the previous reply are sent as
// context. With streaming enabled, playback starts as soon as the first
// unit is complete.
func (a *Application) Reply(ctx context.Context, requestID, hint string) (Utterance, error) {
	if a.deps.Chat == nil {
		return Utterance{}, ErrReplyDisabled
	}
	start := time.Now()

	a.speaking.Lock()
	defer a.speaking.Unlock()

	opLogger := logging.WithOperation(a.SessionID, "reply", requestID)

	// Heard text is consumed only once the model has answered.
	heard, err := a.latest.Peek()
	if err != nil {
		opLogger.Warn().Err(err).Msg("Failed to read latest transcript")
	}
	callContext := a.Cfg.LLM.Context
	if h := strings.TrimSpace(heard); h != "" {
		callContext = strings.TrimSpace(callContext + "\n\nHeard since the last reply:\n" + h)
	}
	messages := llm.BuildMessages(a.Cfg.LLM.Persona, callContext, a.store.Recent(a.Cfg.LLM.RecentItems), hint)

	opLogger.Info().
		Bool("stream", a.Cfg.LLM.Stream).
		Int("messages", len(messages)).
		Msg("Requesting reply")

	var (
		u        Utterance
		answered bool
	)
	if a.Cfg.LLM.Stream {
		u, answered, err = a.replyStream(ctx, messages)
	} else {
		u, answered, err = a.replyBlock(ctx, messages)
	}
	if answered && heard != "" {
		if derr := a.latest.Discard(len(heard)); derr != nil {
			opLogger.Warn().Err(derr).Msg("Failed to clear latest transcript")
		}
	}
	a.finishUtterance("reply", u, err, start)
	return u, err
}

// replyBlock and replyStream report whether the model produced an answer,
// independently of whether it could be spoken.
func (a *Application) replyBlock(ctx context.Context, messages []llm.Message) (Utterance, bool, error) {
	answer, err := a.deps.Chat.Complete(ctx, messages)
	if err != nil {
		return Utterance{}, false, fmt.Errorf("reply: %w", err)
	}
	units := segment.Split(answer)
	if len(units) == 0 {
		return Utterance{Text: answer}, true, ErrNothingToSay
	}
	a.metrics.RecordUnits("batch", len(units))

	report, err := a.synth.Speak(ctx, units)
	return Utterance{Text: segment.Join(units), Report: report}, true, err
}

func (a *Application) replyStream(ctx context.Context, messages []llm.Message) (Utterance, bool, error) {
	stream, err := a.deps.Chat.Stream(ctx, messages)
	if err != nil {
		return Utterance{}, false, fmt.Errorf("reply: %w", err)
	}

	// Tee the tokens so the full answer can be journaled after playback.
	var text strings.Builder
	fragments := make(chan string)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(fragments)
		for tok := range stream.Tokens() {
			text.WriteString(tok)
			select {
			case fragments <- tok:
			case <-ctx.Done():
			}
		}
	}()

	report, err := a.synth.SpeakStream(ctx, segment.Stream(ctx, fragments))
	a.metrics.RecordUnits("stream", len(report.Played)+len(report.Skipped))
	<-done

	u := Utterance{Text: strings.TrimSpace(text.String()), Report: report}
	if serr := stream.Err(); serr != nil {
		return u, false, fmt.Errorf("reply stream: %w", serr)
	}
	if err != nil {
		return u, true, err
	}
	if u.Text == "" {
		return u, true, ErrNothingToSay
	}
	return u, true, nil
}

// Play plays a prerecorded audio file into the call. An empty path plays the
// configured clip.
func (a *Application) Play(ctx context.Context, requestID, path string) error {
	if path == "" {
		path = a.Cfg.Audio.PlayFile
	}
	start := time.Now()

	audio, err := os.ReadFile(path)
	if err != nil {
		a.metrics.RecordOperation("play", err, time.Since(start).Seconds())
		return fmt.Errorf("read audio file: %w", err)
	}

	a.speaking.Lock()
	defer a.speaking.Unlock()

	opLogger := logging.WithOperation(a.SessionID, "play", requestID)
	opLogger.Info().Str("file", path).Int("bytes", len(audio)).Msg("Playing recording")

	err = a.synth.PlayAudio(ctx, audio)
	a.metrics.RecordOperation("play", err, time.Since(start).Seconds())
	if err != nil {
		opLogger.Warn().Err(err).Msg("Playback failed")
		return err
	}
	a.sessionLog.Printf("played %s", path)
	return nil
}

// finishUtterance journals what was actually played.
func (a *Application) finishUtterance(operation string, u Utterance, err error, start time.Time) {
	a.metrics.RecordOperation(operation, err, time.Since(start).Seconds())

	event := a.Logger.Info()
	if err != nil {
		event = a.Logger.Warn().Err(err)
	}
	event.Str("operation", operation).
		Int("played", len(u.Report.Played)).
		Int("skipped", len(u.Report.Skipped)).
		Dur("duration", time.Since(start)).
		Msg("Utterance finished")

	if len(u.Report.Played) == 0 {
		return
	}
	if jerr := a.durable.Append(SelfSpeaker, u.Text); jerr != nil {
		a.Logger.Warn().Err(jerr).Msg("Failed to journal utterance")
	}
	a.sessionLog.Printf("%s: %s", operation, u.Text)
}
