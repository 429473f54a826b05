package schema

import (
	"errors"
	"testing"

	"ai-call-presence-service/internal/models"
)

func TestValidate_TranscriptChanged(t *testing.T) {
	valid := models.TranscriptChanged{
		EventType: models.EventTranscriptCreated,
		SessionID: "sess-1",
		ItemID:    "cap-1",
		Speaker:   "Alice",
		Content:   "hello",
		Timestamp: 1700000000000,
	}

	tests := []struct {
		name    string
		mutate  func(*models.TranscriptChanged)
		wantErr bool
	}{
		{"valid", func(*models.TranscriptChanged) {}, false},
		{"updated type", func(e *models.TranscriptChanged) { e.EventType = models.EventTranscriptUpdated }, false},
		{"empty content allowed", func(e *models.TranscriptChanged) { e.Content = "" }, false},
		{"wrong type", func(e *models.TranscriptChanged) { e.EventType = models.EventRecognition }, true},
		{"missing session", func(e *models.TranscriptChanged) { e.SessionID = "" }, true},
		{"missing item", func(e *models.TranscriptChanged) { e.ItemID = "" }, true},
		{"missing timestamp", func(e *models.TranscriptChanged) { e.Timestamp = 0 }, true},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			err := v.Validate(ev)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestValidate_Recognition(t *testing.T) {
	valid := models.Recognition{
		EventType:  models.EventRecognition,
		SessionID:  "sess-1",
		SegmentID:  "mic-seg-1",
		Mode:       "sliding",
		FirstIndex: 1,
		LastIndex:  2,
		Text:       "hello there",
		Timestamp:  1700000000000,
	}

	if err := New().Validate(&valid); err != nil {
		t.Fatalf("expected valid pointer event, got %v", err)
	}

	bad := valid
	bad.FirstIndex = 3
	bad.Text = "  "
	err := New().Validate(bad)

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(vErr.Fields) != 2 {
		t.Errorf("expected 2 bad fields, got %v", vErr.Fields)
	}
}

func TestValidate_UnknownEvent(t *testing.T) {
	err := New().Validate(map[string]string{"text": "x"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
}
