package recognize

import (
	"testing"

	"ai-call-presence-service/internal/models"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if lc.State() != StateFilling {
		t.Errorf("expected StateFilling, got %v", lc.State())
	}
	if lc.SessionId() != "sess-1" {
		t.Errorf("expected sess-1, got %v", lc.SessionId())
	}
	if lc.IsStopped() {
		t.Error("expected IsStopped to be false")
	}
}

func TestLifecycle_FillsThenSlides(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if err := lc.Advance(1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.State() != StateFilling {
		t.Errorf("expected StateFilling below capacity, got %v", lc.State())
	}

	if err := lc.Advance(2, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.State() != StateSliding {
		t.Errorf("expected StateSliding at capacity, got %v", lc.State())
	}

	// Should stay sliding
	for i := 0; i < 5; i++ {
		if err := lc.Advance(2, 2); err != nil {
			t.Errorf("advance %d: unexpected error: %v", i, err)
		}
	}
	if lc.State() != StateSliding {
		t.Errorf("expected StateSliding, got %v", lc.State())
	}
	if lc.Windows() != 7 {
		t.Errorf("expected 7 windows, got %d", lc.Windows())
	}
}

func TestLifecycle_UnboundedNeverSlides(t *testing.T) {
	lc := NewLifecycle("sess-1")
	for i := 1; i <= 10; i++ {
		lc.Advance(i, 0)
	}
	if lc.State() != StateFilling {
		t.Errorf("expected StateFilling, got %v", lc.State())
	}
}

func TestLifecycle_Stop_Idempotent(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if !lc.Stop() {
		t.Error("expected first Stop() to return true")
	}
	if lc.Stop() {
		t.Error("expected second Stop() to return false")
	}
	if lc.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", lc.State())
	}
}

func TestLifecycle_AdvanceFailsAfterStop(t *testing.T) {
	lc := NewLifecycle("sess-1")
	lc.Advance(2, 2)
	lc.Stop()

	if err := lc.Advance(2, 2); err != ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateFilling, "FILLING"},
		{StateSliding, "SLIDING"},
		{StateStopped, "STOPPED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state      State
		isTerminal bool
	}{
		{StateFilling, false},
		{StateSliding, false},
		{StateStopped, true},
	}

	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.isTerminal {
			t.Errorf("State(%s).IsTerminal() = %v, want %v", tt.state, got, tt.isTerminal)
		}
	}
}

func TestWindow_SlidesAtCapacity(t *testing.T) {
	w := NewWindow(2)

	if w.Push(models.AudioChunk{Index: 0}) {
		t.Error("unexpected eviction while filling")
	}
	w.Push(models.AudioChunk{Index: 1})
	if !w.Push(models.AudioChunk{Index: 2}) {
		t.Error("expected eviction when full")
	}

	if w.Len() != 2 {
		t.Errorf("expected len 2, got %d", w.Len())
	}
	if first, last := w.Span(); first != 1 || last != 2 {
		t.Errorf("span = [%d,%d], want [1,2]", first, last)
	}

	w.Clear()
	if first, last := w.Span(); first != -1 || last != -1 {
		t.Errorf("expected empty span after clear, got [%d,%d]", first, last)
	}
}

func TestWindow_Unbounded(t *testing.T) {
	w := NewWindow(0)
	for i := int64(0); i < 5; i++ {
		w.Push(models.AudioChunk{Index: i, Audio: []byte{byte(i)}, SampleRate: 1, SampleWidth: 1})
	}
	if w.Len() != 5 {
		t.Errorf("expected 5 chunks, got %d", w.Len())
	}
	if got := w.Audio(); len(got) != 5 || got[4] != 4 {
		t.Errorf("unexpected audio %v", got)
	}
	if w.Duration().Seconds() != 5 {
		t.Errorf("expected 5s, got %v", w.Duration())
	}
}
