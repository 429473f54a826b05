package recognize

import (
	"time"

	"ai-call-presence-service/internal/models"
)

// Window is a FIFO of audio chunks. With a positive capacity it slides: the
// oldest chunk is evicted before a new one is admitted once full. With zero
// capacity it grows until cleared.
type Window struct {
	capacity int
	chunks   []models.AudioChunk
}

// NewWindow creates a window. capacity <= 0 means unbounded.
func NewWindow(capacity int) *Window {
	if capacity < 0 {
		capacity = 0
	}
	return &Window{capacity: capacity}
}

// Push admits c, evicting the oldest chunk if the window is full.
// It reports whether a chunk was evicted.
func (w *Window) Push(c models.AudioChunk) bool {
	evicted := false
	if w.capacity > 0 && len(w.chunks) >= w.capacity {
		copy(w.chunks, w.chunks[1:])
		w.chunks = w.chunks[:len(w.chunks)-1]
		evicted = true
	}
	w.chunks = append(w.chunks, c)
	return evicted
}

// Len returns the number of buffered chunks.
func (w *Window) Len() int { return len(w.chunks) }

// Capacity returns the configured capacity, 0 for unbounded.
func (w *Window) Capacity() int { return w.capacity }

// Span returns the first and last buffered chunk indices.
func (w *Window) Span() (first, last int64) {
	if len(w.chunks) == 0 {
		return -1, -1
	}
	return w.chunks[0].Index, w.chunks[len(w.chunks)-1].Index
}

// Indices returns the buffered chunk indices in order.
func (w *Window) Indices() []int64 {
	out := make([]int64, len(w.chunks))
	for i, c := range w.chunks {
		out[i] = c.Index
	}
	return out
}

// Audio concatenates the buffered samples, oldest first.
func (w *Window) Audio() []byte {
	n := 0
	for _, c := range w.chunks {
		n += len(c.Audio)
	}
	out := make([]byte, 0, n)
	for _, c := range w.chunks {
		out = append(out, c.Audio...)
	}
	return out
}

// Duration returns the total buffered audio duration.
func (w *Window) Duration() time.Duration {
	var d time.Duration
	for _, c := range w.chunks {
		d += c.Duration()
	}
	return d
}

// Format returns the sample rate and width of the newest chunk.
func (w *Window) Format() (sampleRate, sampleWidth int) {
	if len(w.chunks) == 0 {
		return 0, 0
	}
	c := w.chunks[len(w.chunks)-1]
	return c.SampleRate, c.SampleWidth
}

// Clear empties the window.
func (w *Window) Clear() {
	w.chunks = w.chunks[:0]
}
