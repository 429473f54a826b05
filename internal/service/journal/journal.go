// Package journal keeps the plain-text files a call leaves behind: the session
// log, a volatile "latest" transcript buffer and the durable transcript.
package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimeFormat prefixes every journal line.
const TimeFormat = "2006-01-02 15:04:05"

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// SessionLog is an append-only file of timestamped lines. It is also an
// io.Writer so the process logger can tee into it.
type SessionLog struct {
	mu  sync.Mutex
	f   *os.File
	now func() time.Time
}

// OpenSessionLog opens or creates the log at path.
func OpenSessionLog(path string) (*SessionLog, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &SessionLog{f: f, now: time.Now}, nil
}

// Printf appends one timestamped line.
func (l *SessionLog) Printf(format string, args ...any) error {
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.f, "%s %s\n", l.now().Format(TimeFormat), line)
	return err
}

// Write appends p unchanged.
func (l *SessionLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Write(p)
}

// Close closes the file.
func (l *SessionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Buffer is the volatile "latest" transcript: lines accumulate until a reader
// has consumed them with Peek and Discard.
type Buffer struct {
	mu   sync.Mutex
	path string
}

// NewBuffer creates the buffer file at path if it is missing.
func NewBuffer(path string) (*Buffer, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &Buffer{path: path}, nil
}

// Append adds one line.
func (b *Buffer) Append(line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := openAppend(b.path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.WriteString(f, strings.TrimRight(line, "\n")+"\n")
	return err
}

// Peek returns the buffered text without clearing it.
func (b *Buffer) Peek() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", b.path, err)
	}
	return string(data), nil
}

// Discard drops the first n bytes, typically the length of an earlier Peek.
// Lines appended after that Peek are kept.
func (b *Buffer) Discard(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", b.path, err)
	}
	n = min(max(n, 0), len(data))
	if err := os.WriteFile(b.path, data[n:], 0o644); err != nil {
		return fmt.Errorf("rewrite %s: %w", b.path, err)
	}
	return nil
}

// Transcript is the durable transcript. It is only ever appended to.
type Transcript struct {
	mu  sync.Mutex
	f   *os.File
	now func() time.Time
}

// OpenTranscript opens or creates the transcript at path.
func OpenTranscript(path string) (*Transcript, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &Transcript{f: f, now: time.Now}, nil
}

// Append writes "[time] speaker: text".
func (t *Transcript) Append(speaker, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := ""
	if speaker != "" {
		prefix = speaker + ": "
	}
	_, err := fmt.Fprintf(t.f, "[%s] %s%s\n", t.now().Format(TimeFormat), prefix, strings.TrimSpace(text))
	return err
}

// Close closes the file.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Close()
}
