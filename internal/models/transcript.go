// Package models defines the data structures shared by the conversation pipeline
// and the events it publishes.
package models

import "time"

// TranscriptItem is one utterance or caption in the running transcript.
// ID is assigned by the caption source and stays stable while Content is revised.
type TranscriptItem struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
}

// TextUnit is a segmented span of text synthesized and played as one playback step.
type TextUnit struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// AudioChunk is a fixed-duration block of raw PCM samples from a capture source.
// Index increases monotonically per source.
type AudioChunk struct {
	Index       int64
	Audio       []byte
	SampleRate  int // Hz
	SampleWidth int // bytes per sample
}

// Duration returns the playback length of the chunk assuming mono PCM.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.SampleWidth <= 0 {
		return 0
	}
	samples := len(c.Audio) / c.SampleWidth
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Event types published to Kafka.
const (
	EventTranscriptCreated = "call.transcript.created"
	EventTranscriptUpdated = "call.transcript.updated"
	EventRecognition       = "call.recognition"
)

// TranscriptChanged is published whenever the transcript store creates or revises an item.
type TranscriptChanged struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	ItemID    string `json:"itemId"`
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Revision  uint64 `json:"revision"` // orders successive changes of one item
}

// Recognition is published for every successful recognition window.
type Recognition struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	SegmentID  string `json:"segmentId"`
	Mode       string `json:"mode"`
	FirstIndex int64  `json:"firstIndex"`
	LastIndex  int64  `json:"lastIndex"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}
