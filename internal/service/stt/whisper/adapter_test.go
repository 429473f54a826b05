package whisper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-call-presence-service/internal/service/stt"
)

func TestRecognize_UploadsWAV(t *testing.T) {
	var (
		gotModel string
		gotAuth  string
		gotMagic string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		head := make([]byte, 4)
		io.ReadFull(f, head)
		gotMagic = string(head)
		w.Write([]byte(`{"text":"  good morning  "}`))
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, APIKey: "k"})
	res, err := a.Recognize(context.Background(), stt.Request{
		Audio: []byte{1, 2, 3, 4}, SampleRate: 16000, SampleWidth: 2,
	})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Text != "good morning" {
		t.Errorf("expected trimmed text, got %q", res.Text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("expected default model, got %q", gotModel)
	}
	if gotAuth != "Bearer k" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotMagic != "RIFF" {
		t.Errorf("expected WAV upload, got magic %q", gotMagic)
	}
}

func TestRecognize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusBadGateway, "upstream", stt.ErrServiceError},
		{"bad json", http.StatusOK, "not json", stt.ErrServiceError},
		{"empty text", http.StatusOK, `{"text":""}`, stt.ErrNotUnderstood},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Recognize(context.Background(), stt.Request{SampleRate: 16000, SampleWidth: 2})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRecognize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url}).Recognize(context.Background(), stt.Request{SampleRate: 16000, SampleWidth: 2})
	if !errors.Is(err, stt.ErrServiceError) {
		t.Errorf("expected ErrServiceError, got %v", err)
	}
}
