package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FilePlaceholder in a player's arguments is replaced by a temp file holding the audio.
// Without it the audio is written to the player's stdin.
const FilePlaceholder = "{file}"

// CommandPlayer plays audio through an external process and blocks until it exits.
type CommandPlayer struct {
	path   string
	args   []string
	ext    string
	logger zerolog.Logger
}

// NewCommandPlayer creates a player that runs path with args for every clip.
func NewCommandPlayer(path string, args ...string) *CommandPlayer {
	return &CommandPlayer{
		path:   path,
		args:   args,
		ext:    ".mp3",
		logger: log.With().Str("component", "player").Logger(),
	}
}

// WithFileExtension sets the extension of temp files handed to the player.
func (p *CommandPlayer) WithFileExtension(ext string) *CommandPlayer {
	p.ext = ext
	return p
}

// Play runs the player until it exits.
func (p *CommandPlayer) Play(ctx context.Context, audio []byte) error {
	args := append([]string(nil), p.args...)

	var stdin io.Reader
	usesFile := false
	for _, a := range args {
		if strings.Contains(a, FilePlaceholder) {
			usesFile = true
			break
		}
	}

	if usesFile {
		f, err := os.CreateTemp("", "utterance-*"+p.ext)
		if err != nil {
			return fmt.Errorf("create temp audio: %w", err)
		}
		defer os.Remove(f.Name())
		if _, err := f.Write(audio); err != nil {
			f.Close()
			return fmt.Errorf("write temp audio: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close temp audio: %w", err)
		}
		for i, a := range args {
			args[i] = strings.ReplaceAll(a, FilePlaceholder, f.Name())
		}
	} else {
		stdin = bytes.NewReader(audio)
	}

	cmd := exec.CommandContext(ctx, p.path, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player %s: %w: %s", p.path, err, strings.TrimSpace(stderr.String()))
	}
	p.logger.Debug().
		Int("bytes", len(audio)).
		Dur("duration", time.Since(start)).
		Msg("Playback finished")
	return nil
}

// PlayFile plays a prerecorded file.
func (p *CommandPlayer) PlayFile(ctx context.Context, path string) error {
	audio, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}
	return p.Play(ctx, audio)
}

// CommandSource captures raw PCM from the stdout of an external recorder process.
type CommandSource struct {
	cmd           *exec.Cmd
	format        Format
	listenTimeout time.Duration
	chunks        chan []byte
	errc          chan error
	cancel        context.CancelFunc
}

// StartCommandSource starts the recorder. chunkBytes sets the fixed chunk size;
// listenTimeout bounds each Read.
func StartCommandSource(ctx context.Context, format Format, chunkBytes int, listenTimeout time.Duration, path string, args ...string) (*CommandSource, error) {
	if chunkBytes <= 0 {
		return nil, errors.New("audio: chunk size must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recorder %s: %w", path, err)
	}

	s := &CommandSource{
		cmd:           cmd,
		format:        format,
		listenTimeout: listenTimeout,
		chunks:        make(chan []byte, 16),
		errc:          make(chan error, 1),
		cancel:        cancel,
	}
	go s.pump(ctx, stdout, chunkBytes)
	return s, nil
}

func (s *CommandSource) pump(ctx context.Context, r io.Reader, chunkBytes int) {
	defer close(s.chunks)
	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.errc <- err
			}
			return
		}
	}
}

// Read returns the next chunk, ErrListenTimeout, or io.EOF once the recorder exits.
func (s *CommandSource) Read(ctx context.Context) ([]byte, error) {
	var timeout <-chan time.Time
	if s.listenTimeout > 0 {
		t := time.NewTimer(s.listenTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			select {
			case err := <-s.errc:
				return nil, fmt.Errorf("recorder: %w", err)
			default:
				return nil, io.EOF
			}
		}
		return chunk, nil
	case <-timeout:
		return nil, ErrListenTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Format returns the configured capture format.
func (s *CommandSource) Format() Format {
	return s.format
}

// Close stops the recorder.
func (s *CommandSource) Close() error {
	s.cancel()
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed by cancel.
		return nil
	}
	return err
}
