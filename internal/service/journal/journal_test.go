package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
}

func TestSessionLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "session.log")
	l, err := OpenSessionLog(path)
	if err != nil {
		t.Fatalf("OpenSessionLog() error = %v", err)
	}
	l.now = fixedNow

	l.Printf("joined call %s", "abc")
	l.Write([]byte(`{"level":"info"}` + "\n"))
	l.Close()

	data, _ := os.ReadFile(path)
	want := "2024-03-01 09:30:00 joined call abc\n{\"level\":\"info\"}\n"
	if string(data) != want {
		t.Errorf("log = %q, want %q", data, want)
	}

	// Reopening appends.
	l, _ = OpenSessionLog(path)
	l.now = fixedNow
	l.Printf("second run")
	l.Close()
	data, _ = os.ReadFile(path)
	if !strings.HasSuffix(string(data), "second run\n") || !strings.HasPrefix(string(data), "2024-03-01 09:30:00 joined") {
		t.Errorf("expected append on reopen, got %q", data)
	}
}

func TestBuffer_PeekAndDiscard(t *testing.T) {
	b, err := NewBuffer(filepath.Join(t.TempDir(), "latest.txt"))
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}

	if got, _ := b.Peek(); got != "" {
		t.Errorf("expected empty buffer, got %q", got)
	}

	b.Append("hello")
	b.Append("world\n")

	got, err := b.Peek()
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if got != "hello\nworld\n" {
		t.Errorf("Peek() = %q", got)
	}
	if again, _ := b.Peek(); again != got {
		t.Errorf("Peek() cleared the buffer, got %q", again)
	}

	// A line appended between Peek and Discard survives.
	b.Append("late")
	if err := b.Discard(len(got)); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if rest, _ := b.Peek(); rest != "late\n" {
		t.Errorf("after Discard = %q, want %q", rest, "late\n")
	}

	if err := b.Discard(1 << 20); err != nil {
		t.Fatalf("Discard() past the end error = %v", err)
	}
	if rest, _ := b.Peek(); rest != "" {
		t.Errorf("expected buffer cleared, got %q", rest)
	}
}

func TestBuffer_ConcurrentAppend(t *testing.T) {
	b, _ := NewBuffer(filepath.Join(t.TempDir(), "latest.txt"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Append(fmt.Sprintf("w%d-%d", i, j))
			}
		}(i)
	}
	wg.Wait()

	got, _ := b.Peek()
	if n := strings.Count(got, "\n"); n != 80 {
		t.Errorf("expected 80 lines, got %d", n)
	}
}

func TestTranscript_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.txt")
	tr, err := OpenTranscript(path)
	if err != nil {
		t.Fatalf("OpenTranscript() error = %v", err)
	}
	tr.now = fixedNow

	tr.Append("Alice", " Hello there ")
	tr.Append("", "no speaker")
	tr.Close()

	data, _ := os.ReadFile(path)
	want := "[2024-03-01 09:30:00] Alice: Hello there\n[2024-03-01 09:30:00] no speaker\n"
	if string(data) != want {
		t.Errorf("transcript = %q, want %q", data, want)
	}
}
