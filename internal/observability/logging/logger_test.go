package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_TeesToExtraWriters(t *testing.T) {
	var out, file bytes.Buffer
	logger := New(Config{Level: "info", Format: "json"}, &out, &file)

	logger.Info().Str("sessionId", "s1").Msg("joined")
	logger.Debug().Msg("hidden")

	if out.String() != file.String() {
		t.Errorf("expected identical output, got %q and %q", out.String(), file.String())
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line at info level, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON line: %v", err)
	}
	if entry["message"] != "joined" || entry["sessionId"] != "s1" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_LevelFallback(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		New(Config{Level: tt.level}, &bytes.Buffer{})
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("level %q: global level = %v, want %v", tt.level, got, tt.want)
		}
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
