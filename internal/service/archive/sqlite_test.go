package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ai-call-presence-service/internal/models"
)

func openTest(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepo_TranscriptUpsert(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)
	base := time.UnixMilli(1700000000000)

	if err := repo.StartSession(ctx, "s1", base); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := repo.StartSession(ctx, "s1", base); err != nil {
		t.Fatalf("second StartSession() should be a no-op, got %v", err)
	}

	first := []models.TranscriptItem{
		{ID: "b", Timestamp: base.Add(2 * time.Second), Speaker: "Bob", Content: "Hi"},
		{ID: "a", Timestamp: base.Add(time.Second), Speaker: "Alice", Content: "Hel"},
	}
	if err := repo.SaveTranscript(ctx, "s1", first); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	// A later snapshot revises "a" and adds "c".
	second := []models.TranscriptItem{
		{ID: "a", Timestamp: base.Add(time.Second), Speaker: "Alice", Content: "Hello"},
		{ID: "c", Timestamp: base.Add(3 * time.Second), Speaker: "Alice", Content: "Bye"},
	}
	if err := repo.SaveTranscript(ctx, "s1", second); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	items, err := repo.Transcript(ctx, "s1")
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].ID != "a" || items[0].Content != "Hello" || items[1].ID != "b" || items[2].ID != "c" {
		t.Errorf("unexpected items %+v", items)
	}
	if !items[0].Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("timestamp not preserved: %v", items[0].Timestamp)
	}

	if err := repo.EndSession(ctx, "s1", base.Add(time.Minute)); err != nil {
		t.Errorf("EndSession() error = %v", err)
	}
}

func TestSQLiteRepo_SaveTranscriptEmpty(t *testing.T) {
	repo := openTest(t)
	if err := repo.SaveTranscript(context.Background(), "s1", nil); err != nil {
		t.Errorf("expected no-op for empty snapshot, got %v", err)
	}
}

func TestSQLiteRepo_UnknownSessionRejected(t *testing.T) {
	repo := openTest(t)
	err := repo.SaveTranscript(context.Background(), "missing", []models.TranscriptItem{
		{ID: "a", Timestamp: time.Now(), Content: "x"},
	})
	if err == nil {
		t.Error("expected foreign key violation for unknown session")
	}
}

func TestSQLiteRepo_Recognitions(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)
	repo.StartSession(ctx, "s1", time.Now())

	recs := []models.Recognition{
		{SessionID: "s1", SegmentID: "mic-seg-2", Mode: "sliding", FirstIndex: 1, LastIndex: 2, Text: "b", Timestamp: 2},
		{SessionID: "s1", SegmentID: "mic-seg-1", Mode: "sliding", FirstIndex: 0, LastIndex: 1, Text: "a", Timestamp: 1},
	}
	for _, r := range recs {
		if err := repo.SaveRecognition(ctx, r); err != nil {
			t.Fatalf("SaveRecognition() error = %v", err)
		}
	}
	// Duplicate segment ids are ignored.
	if err := repo.SaveRecognition(ctx, recs[0]); err != nil {
		t.Fatalf("duplicate SaveRecognition() error = %v", err)
	}

	got, err := repo.Recognitions(ctx, "s1")
	if err != nil {
		t.Fatalf("Recognitions() error = %v", err)
	}
	if len(got) != 2 || got[0].SegmentID != "mic-seg-1" || got[1].Text != "b" {
		t.Errorf("unexpected recognitions %+v", got)
	}
	if got[0].EventType != models.EventRecognition {
		t.Errorf("expected event type filled in, got %q", got[0].EventType)
	}
}
