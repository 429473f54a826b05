package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-call-presence-service/internal/service/stt"
)

func speech() []byte {
	return []byte{1, 2, 3, 4}
}

func TestAdapter_New(t *testing.T) {
	adapter := New()
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if adapter.closed {
		t.Error("expected adapter to not be closed initially")
	}
}

func TestAdapter_CyclesThroughUtterances(t *testing.T) {
	adapter := New()

	for i := 0; i < len(DefaultUtterances)+1; i++ {
		res, err := adapter.Recognize(context.Background(), stt.Request{Audio: speech()})
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		want := DefaultUtterances[i%len(DefaultUtterances)].Text
		if res.Text != want {
			t.Errorf("request %d: expected %q, got %q", i, want, res.Text)
		}
	}
}

func TestAdapter_SilenceNotUnderstood(t *testing.T) {
	adapter := New()

	_, err := adapter.Recognize(context.Background(), stt.Request{Audio: make([]byte, 32)})
	if !errors.Is(err, stt.ErrNotUnderstood) {
		t.Errorf("expected ErrNotUnderstood, got %v", err)
	}
}

func TestAdapter_SetFailing(t *testing.T) {
	adapter := New()
	adapter.SetFailing(true)

	_, err := adapter.Recognize(context.Background(), stt.Request{Audio: speech()})
	if !errors.Is(err, stt.ErrServiceError) {
		t.Errorf("expected ErrServiceError, got %v", err)
	}

	adapter.SetFailing(false)
	if _, err := adapter.Recognize(context.Background(), stt.Request{Audio: speech()}); err != nil {
		t.Errorf("expected recovery, got %v", err)
	}
}

func TestAdapter_LatencyRespectsContext(t *testing.T) {
	adapter := New(WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.Recognize(ctx, stt.Request{Audio: speech()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	adapter := New()

	adapter.Close()
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}

	_, err := adapter.Recognize(context.Background(), stt.Request{Audio: speech()})
	if !errors.Is(err, stt.ErrServiceError) {
		t.Errorf("expected ErrServiceError after close, got %v", err)
	}
}

func TestDefaultUtterances(t *testing.T) {
	if len(DefaultUtterances) != 5 {
		t.Errorf("expected 5 default utterances, got %d", len(DefaultUtterances))
	}

	for i, utt := range DefaultUtterances {
		if utt.Text == "" {
			t.Errorf("utterance %d has empty text", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
	}
}

func TestAdapter_ThreadSafety(t *testing.T) {
	adapter := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				adapter.Recognize(context.Background(), stt.Request{Audio: speech()})
			}
		}()
	}
	wg.Wait()

	if got := len(adapter.Requests()); got != 50 {
		t.Errorf("expected 50 recorded requests, got %d", got)
	}
}
