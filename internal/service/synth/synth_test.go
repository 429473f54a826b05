package synth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/service/segment"
)

// fakeFetcher returns the text as audio after a per-text delay.
type fakeFetcher struct {
	delays   map[string]time.Duration
	failures map[string]error
	empty    map[string]bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, text string) ([]byte, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	select {
	case <-time.After(f.delays[text]):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := f.failures[text]; err != nil {
		return nil, err
	}
	if f.empty[text] {
		return nil, nil
	}
	return []byte(text), nil
}

type recordingPlayer struct {
	mu     sync.Mutex
	played []string
	err    map[string]error
}

func (p *recordingPlayer) Play(ctx context.Context, audio []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.err[string(audio)]; err != nil {
		return err
	}
	p.played = append(p.played, string(audio))
	return nil
}

func (p *recordingPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

type countingRouter struct {
	mu      sync.Mutex
	calls   []string
	liveCtx error
}

func (r *countingRouter) ToVirtual(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "virtual")
	return nil
}

func (r *countingRouter) ToLive(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "live")
	r.liveCtx = ctx.Err()
	return nil
}

func (r *countingRouter) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func units(texts ...string) []models.TextUnit {
	out := make([]models.TextUnit, len(texts))
	for i, t := range texts {
		out[i] = models.TextUnit{Index: i, Text: t}
	}
	return out
}

func quiet() Option {
	return WithLogger(zerolog.Nop())
}

func TestSpeak_PlaysInIndexOrder(t *testing.T) {
	fetcher := &fakeFetcher{delays: map[string]time.Duration{
		"u0": 120 * time.Millisecond,
		"u1": 60 * time.Millisecond,
		"u2": 40 * time.Millisecond,
		"u3": 5 * time.Millisecond,
		"u4": 30 * time.Millisecond,
	}}
	player := &recordingPlayer{}
	router := &countingRouter{}
	s := New(fetcher, player, WithRouter(router), WithMaxConcurrency(5), quiet())

	start := time.Now()
	report, err := s.Speak(context.Background(), units("u0", "u1", "u2", "u3", "u4"))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	want := []string{"u0", "u1", "u2", "u3", "u4"}
	got := player.Played()
	if len(got) != len(want) {
		t.Fatalf("played %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("played %v, want %v", got, want)
		}
	}
	if len(report.Played) != 5 || len(report.Skipped) != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	// Fetches overlap, so total time is bounded by the slowest one, not the sum.
	if elapsed > 220*time.Millisecond {
		t.Errorf("fetches did not run concurrently: elapsed %v", elapsed)
	}
}

func TestSpeak_SkipsFailedUnit(t *testing.T) {
	fetcher := &fakeFetcher{
		delays:   map[string]time.Duration{"a": 10 * time.Millisecond},
		failures: map[string]error{"b": errors.New("rate limited")},
		empty:    map[string]bool{"c": true},
	}
	player := &recordingPlayer{}
	s := New(fetcher, player, quiet())

	report, err := s.Speak(context.Background(), units("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	got := player.Played()
	if len(got) != 2 || got[0] != "a" || got[1] != "d" {
		t.Errorf("played %v, want [a d]", got)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("expected 2 skipped units, got %+v", report.Skipped)
	}
	if report.Skipped[0].Index != 1 || report.Skipped[0].Text != "b" {
		t.Errorf("unexpected first skip: %+v", report.Skipped[0])
	}
	if !errors.Is(report.Skipped[1].Err, ErrNoAudio) {
		t.Errorf("expected ErrNoAudio for empty audio, got %v", report.Skipped[1].Err)
	}
}

func TestSpeak_PlaybackFailureContinues(t *testing.T) {
	fetcher := &fakeFetcher{}
	player := &recordingPlayer{err: map[string]error{"x": errors.New("device busy")}}
	s := New(fetcher, player, quiet())

	report, err := s.Speak(context.Background(), units("x", "y"))
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := player.Played(); len(got) != 1 || got[0] != "y" {
		t.Errorf("played %v, want [y]", got)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Index != 0 {
		t.Errorf("unexpected skipped: %+v", report.Skipped)
	}
}

func TestSpeak_BoundsConcurrency(t *testing.T) {
	texts := make([]string, 20)
	delays := make(map[string]time.Duration)
	for i := range texts {
		texts[i] = string(rune('a' + i))
		delays[texts[i]] = 15 * time.Millisecond
	}
	fetcher := &fakeFetcher{delays: delays}
	s := New(fetcher, &recordingPlayer{}, WithMaxConcurrency(3), quiet())

	if _, err := s.Speak(context.Background(), units(texts...)); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if max := fetcher.maxInFlight.Load(); max > 3 {
		t.Errorf("max in-flight fetches = %d, want <= 3", max)
	}
	if max := fetcher.maxInFlight.Load(); max < 2 {
		t.Errorf("max in-flight fetches = %d, expected some concurrency", max)
	}
	if calls := fetcher.calls.Load(); calls != 20 {
		t.Errorf("expected 20 fetches, got %d", calls)
	}
}

func TestSpeak_RouteSwitchedOncePerCall(t *testing.T) {
	router := &countingRouter{}
	s := New(&fakeFetcher{}, &recordingPlayer{}, WithRouter(router), quiet())

	if _, err := s.Speak(context.Background(), units("one", "two", "three")); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	calls := router.Calls()
	if len(calls) != 2 || calls[0] != "virtual" || calls[1] != "live" {
		t.Errorf("route calls = %v, want [virtual live]", calls)
	}
}

func TestSpeakStream_RoutesOnFirstUnit(t *testing.T) {
	router := &countingRouter{}
	s := New(&fakeFetcher{}, &recordingPlayer{}, WithRouter(router), quiet())

	in := make(chan models.TextUnit)
	done := make(chan error, 1)
	go func() {
		_, err := s.SpeakStream(context.Background(), in)
		done <- err
	}()

	// Nothing has arrived yet, so the live input stays selected.
	time.Sleep(30 * time.Millisecond)
	if calls := router.Calls(); len(calls) != 0 {
		t.Fatalf("route switched before any unit: %v", calls)
	}

	in <- models.TextUnit{Index: 0, Text: "hello"}
	close(in)
	if err := <-done; err != nil {
		t.Fatalf("SpeakStream() error = %v", err)
	}
	if calls := router.Calls(); len(calls) != 2 || calls[0] != "virtual" || calls[1] != "live" {
		t.Errorf("route calls = %v, want [virtual live]", calls)
	}
}

func TestSpeakStream_EmptyLeavesRouteAlone(t *testing.T) {
	router := &countingRouter{}
	s := New(&fakeFetcher{}, &recordingPlayer{}, WithRouter(router), quiet())

	in := make(chan models.TextUnit)
	close(in)
	report, err := s.SpeakStream(context.Background(), in)
	if err != nil {
		t.Fatalf("SpeakStream() error = %v", err)
	}
	if len(report.Played) != 0 || len(router.Calls()) != 0 {
		t.Errorf("expected no playback and no route calls, got %+v and %v", report, router.Calls())
	}
}

func TestSpeak_CancelRestoresRoute(t *testing.T) {
	fetcher := &fakeFetcher{delays: map[string]time.Duration{
		"slow": 5 * time.Second,
		"next": 5 * time.Second,
	}}
	router := &countingRouter{}
	s := New(fetcher, &recordingPlayer{}, WithRouter(router), quiet())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := s.Speak(ctx, units("slow", "next"))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after cancel")
	}

	calls := router.Calls()
	if len(calls) != 2 || calls[1] != "live" {
		t.Fatalf("route calls = %v, want live restored", calls)
	}
	if router.liveCtx != nil {
		t.Errorf("route restored with a cancelled context: %v", router.liveCtx)
	}
}

func TestSpeakStream_FromSegmenter(t *testing.T) {
	fragments := make(chan string)
	go func() {
		defer close(fragments)
		for _, f := range []string{"Sure", ",", " I", " can", " help."} {
			fragments <- f
		}
	}()

	player := &recordingPlayer{}
	s := New(&fakeFetcher{}, player, quiet())

	report, err := s.SpeakStream(context.Background(), segment.Stream(context.Background(), fragments))
	if err != nil {
		t.Fatalf("SpeakStream() error = %v", err)
	}

	want := []string{"Sure, ", "I ", "can ", "help. "}
	got := player.Played()
	if len(got) != len(want) {
		t.Fatalf("played %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("played[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for i, idx := range report.Played {
		if idx != i {
			t.Errorf("report.Played = %v, want ascending indices", report.Played)
			break
		}
	}
}

func TestSpeakOnce(t *testing.T) {
	router := &countingRouter{}
	player := &recordingPlayer{}
	s := New(&fakeFetcher{}, player, WithRouter(router), quiet())

	if err := s.SpeakOnce(context.Background(), "hello"); err != nil {
		t.Fatalf("SpeakOnce() error = %v", err)
	}
	if got := player.Played(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("played %v", got)
	}
	if calls := router.Calls(); len(calls) != 2 {
		t.Errorf("route calls = %v", calls)
	}

	failing := New(&fakeFetcher{failures: map[string]error{"bad": errors.New("boom")}}, player, quiet())
	if err := failing.SpeakOnce(context.Background(), "bad"); err == nil {
		t.Error("expected error for failed synthesis")
	}
}

func TestPlayAudio(t *testing.T) {
	player := &recordingPlayer{}
	s := New(&fakeFetcher{}, player, quiet())

	if err := s.PlayAudio(context.Background(), []byte("clip")); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	if got := player.Played(); len(got) != 1 || got[0] != "clip" {
		t.Errorf("played %v", got)
	}
}

func TestWithMaxConcurrency_IgnoresNonPositive(t *testing.T) {
	s := New(&fakeFetcher{}, &recordingPlayer{}, WithMaxConcurrency(0))
	if s.maxConcurrency != DefaultMaxConcurrency {
		t.Errorf("maxConcurrency = %d, want %d", s.maxConcurrency, DefaultMaxConcurrency)
	}
}
