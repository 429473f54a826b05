package recognize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/service/stt"
)

// fakeSTT records every request span and answers from a per-span table.
type fakeSTT struct {
	mu       sync.Mutex
	spans    [][2]int64
	audio    [][]byte
	failures map[[2]int64]error
}

func (f *fakeSTT) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	span := [2]int64{req.FirstIndex, req.LastIndex}
	f.spans = append(f.spans, span)
	f.audio = append(f.audio, req.Audio)
	if err := f.failures[span]; err != nil {
		return stt.Result{}, err
	}
	return stt.Result{Text: fmt.Sprintf("text %d-%d", req.FirstIndex, req.LastIndex), Confidence: 0.9}, nil
}

func (f *fakeSTT) Close() error { return nil }

func (f *fakeSTT) Spans() [][2]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int64(nil), f.spans...)
}

type collectSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *collectSink) OnRecognized(ctx context.Context, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

// chunk builds a 100ms chunk at 16kHz 16-bit mono filled with its index.
func chunk(index int64) models.AudioChunk {
	audio := make([]byte, 3200)
	for i := range audio {
		audio[i] = byte(index)
	}
	return models.AudioChunk{Index: index, Audio: audio, SampleRate: 16000, SampleWidth: 2}
}

func feed(chunks ...models.AudioChunk) <-chan models.AudioChunk {
	ch := make(chan models.AudioChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func equalSpans(a, b [][2]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRecognizer_SlidingWindows(t *testing.T) {
	fake := &fakeSTT{}
	sink := &collectSink{}
	r := New(fake, sink, Config{Mode: ModeSliding, WindowSize: 2})

	if err := r.Run(context.Background(), feed(chunk(0), chunk(1), chunk(2), chunk(3))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := [][2]int64{{0, 0}, {0, 1}, {1, 2}, {2, 3}}
	if got := fake.Spans(); !equalSpans(got, want) {
		t.Errorf("spans = %v, want %v", got, want)
	}

	// Each request carries exactly the window's samples, oldest first.
	if len(fake.audio[2]) != 6400 || fake.audio[2][0] != 1 || fake.audio[2][6399] != 2 {
		t.Errorf("window [1,2] audio not concatenated in order")
	}

	if len(sink.results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(sink.results))
	}
	if sink.results[3].Text != "text 2-3" || sink.results[3].Mode != ModeSliding {
		t.Errorf("unexpected last result: %+v", sink.results[3])
	}
	if r.State() != StateStopped {
		t.Errorf("expected StateStopped after input ended, got %v", r.State())
	}
}

func TestRecognizer_WindowNeverExceedsCapacity(t *testing.T) {
	fake := &fakeSTT{}
	r := New(fake, nil, Config{Mode: ModeSliding, WindowSize: 3})

	var chunks []models.AudioChunk
	for i := int64(0); i < 10; i++ {
		chunks = append(chunks, chunk(i))
	}
	if err := r.Run(context.Background(), feed(chunks...)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, span := range fake.Spans() {
		if n := span[1] - span[0] + 1; n > 3 || n < 1 {
			t.Errorf("window %v has size %d", span, n)
		}
	}
}

func TestRecognizer_FailuresDoNotStopLoop(t *testing.T) {
	fake := &fakeSTT{failures: map[[2]int64]error{
		{0, 1}: fmt.Errorf("backend 503: %w", stt.ErrServiceError),
		{1, 2}: fmt.Errorf("silence: %w", stt.ErrNotUnderstood),
	}}
	sink := &collectSink{}
	r := New(fake, sink, Config{Mode: ModeSliding, WindowSize: 2})

	if err := r.Run(context.Background(), feed(chunk(0), chunk(1), chunk(2), chunk(3))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fake.Spans()) != 4 {
		t.Errorf("expected every window submitted once, got %v", fake.Spans())
	}
	if len(sink.results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(sink.results))
	}
	if sink.results[0].LastIndex != 0 || sink.results[1].FirstIndex != 2 {
		t.Errorf("unexpected results: %v, %v", sink.results[0], sink.results[1])
	}
}

func TestRecognizer_DropsOutOfOrderChunks(t *testing.T) {
	fake := &fakeSTT{}
	r := New(fake, nil, Config{Mode: ModeSliding, WindowSize: 2})

	if err := r.Run(context.Background(), feed(chunk(0), chunk(1), chunk(1), chunk(0), chunk(2))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := [][2]int64{{0, 0}, {0, 1}, {1, 2}}
	if got := fake.Spans(); !equalSpans(got, want) {
		t.Errorf("spans = %v, want %v", got, want)
	}
}

func TestRecognizer_Accumulate(t *testing.T) {
	fake := &fakeSTT{}
	sink := &collectSink{}
	r := New(fake, sink, Config{Mode: ModeAccumulate, AccumulateThreshold: 250 * time.Millisecond})

	var chunks []models.AudioChunk
	for i := int64(0); i < 7; i++ {
		chunks = append(chunks, chunk(i))
	}
	if err := r.Run(context.Background(), feed(chunks...)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// 100ms chunks: spans close at 300ms, the remainder flushes at end of input.
	want := [][2]int64{{0, 2}, {3, 5}, {6, 6}}
	if got := fake.Spans(); !equalSpans(got, want) {
		t.Errorf("spans = %v, want %v", got, want)
	}
	if len(sink.results) != 3 || sink.results[0].Audio != 300*time.Millisecond {
		t.Errorf("unexpected results: %+v", sink.results)
	}
	if sink.results[0].Mode != ModeAccumulate {
		t.Errorf("expected accumulate mode in result, got %s", sink.results[0].Mode)
	}
}

func TestRecognizer_StopsOnCancel(t *testing.T) {
	r := New(&fakeSTT{}, nil, DefaultConfig())
	chunks := make(chan models.AudioChunk) // never closed

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, chunks) }()

	chunks <- chunk(0)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if r.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", r.State())
	}

	if err := r.Run(context.Background(), feed(chunk(1))); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped on restart, got %v", err)
	}
}

func TestRecognizer_UniqueSegmentIDs(t *testing.T) {
	sink := &collectSink{}
	r := New(&fakeSTT{}, sink, Config{Mode: ModeSliding, WindowSize: 2, Source: "file"})

	if err := r.Run(context.Background(), feed(chunk(0), chunk(1), chunk(2))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	seen := map[string]bool{}
	for _, res := range sink.results {
		if seen[res.SegmentID] {
			t.Errorf("duplicate segment id %s", res.SegmentID)
		}
		seen[res.SegmentID] = true
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Mode != ModeSliding {
		t.Errorf("expected sliding mode, got %s", cfg.Mode)
	}
	if cfg.WindowSize != 2 {
		t.Errorf("expected window size 2, got %d", cfg.WindowSize)
	}
}
