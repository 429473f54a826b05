package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrNotWAV is returned for input without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a valid WAV file")

const wavFormatPCM = 1

// WAVSource reads PCM audio from a WAV stream in fixed-size chunks.
type WAVSource struct {
	r         io.Reader
	closer    io.Closer
	format    Format
	chunkSize int
	realtime  bool
	remaining int64
}

// OpenWAV opens a WAV file. Chunks are chunkDuration long; when realtime is
// set, Read paces chunks at the audio's own rate.
func OpenWAV(path string, chunkDuration time.Duration, realtime bool) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	src, err := NewWAVSource(f, chunkDuration, realtime)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewWAVSource parses the WAV header from r and positions it at the start of the data chunk.
func NewWAVSource(r io.Reader, chunkDuration time.Duration, realtime bool) (*WAVSource, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		format  Format
		haveFmt bool
	)
	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			return nil, fmt.Errorf("read wav chunk: %w", err)
		}
		id := string(chunkHeader[0:4])
		size := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			if audioFormat != wavFormatPCM {
				return nil, fmt.Errorf("audio: only PCM WAV supported, got format %d", audioFormat)
			}
			format = Format{
				Channels:    int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:  int(binary.LittleEndian.Uint32(body[4:8])),
				SampleWidth: int(binary.LittleEndian.Uint16(body[14:16])) / 8,
			}
			if format.SampleRate == 0 || format.SampleWidth == 0 {
				return nil, fmt.Errorf("%w: zero sample rate or width", ErrNotWAV)
			}
			// Chunks and recognition requests carry no channel count.
			if format.Channels != 1 {
				return nil, fmt.Errorf("%w: %d channels, only mono supported", ErrNotWAV, format.Channels)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			chunkSize := int(chunkDuration.Seconds() * float64(format.BytesPerSecond()))
			chunkSize -= chunkSize % format.SampleWidth
			if chunkSize <= 0 {
				chunkSize = max(format.BytesPerSecond()/10, format.SampleWidth)
			}
			return &WAVSource{
				r:         r,
				format:    format,
				chunkSize: chunkSize,
				realtime:  realtime,
				remaining: size,
			}, nil
		default:
			// Chunks are word aligned.
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// Read returns the next chunk. The last chunk may be short.
func (s *WAVSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.remaining <= 0 {
		return nil, io.EOF
	}

	n := int64(s.chunkSize)
	if n > s.remaining {
		n = s.remaining
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(s.r, buf)
	s.remaining -= int64(read)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		s.remaining = 0
		if read == 0 {
			return nil, io.EOF
		}
	} else if err != nil {
		return nil, fmt.Errorf("read wav data: %w", err)
	}

	if s.realtime {
		d := time.Duration(float64(read) / float64(s.format.BytesPerSecond()) * float64(time.Second))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return buf[:read], nil
}

// Format returns the parsed audio format.
func (s *WAVSource) Format() Format {
	return s.format
}

// Close closes the underlying file, if any.
func (s *WAVSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// EncodeWAV wraps raw PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	channels := max(f.Channels, 1)
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate*f.SampleWidth*channels))
	binary.Write(&buf, binary.LittleEndian, uint16(f.SampleWidth*channels))
	binary.Write(&buf, binary.LittleEndian, uint16(f.SampleWidth*8))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
