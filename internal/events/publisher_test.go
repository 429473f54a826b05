package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/schema"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newEnabled(tw, rw *fakeWriter) *Publisher {
	return &Publisher{
		writerTranscript:  tw,
		writerRecognition: rw,
		principal:         "test-svc",
		topicTranscript:   "test.transcript",
		topicRecognition:  "test.recognition",
		enabled:           true,
		validator:         schema.New(),
		metrics:           metrics.DefaultMetrics,
	}
}

func transcriptEvent() models.TranscriptChanged {
	return models.TranscriptChanged{
		EventType: models.EventTranscriptCreated,
		SessionID: "sess-1",
		ItemID:    "cap-7",
		Speaker:   "Alice",
		Content:   "hello",
		Timestamp: 1700000000000,
	}
}

func recognitionEvent() models.Recognition {
	return models.Recognition{
		EventType:  models.EventRecognition,
		SessionID:  "sess-1",
		SegmentID:  "mic-seg-1",
		Mode:       "sliding",
		FirstIndex: 0,
		LastIndex:  1,
		Text:       "hello world",
		Timestamp:  1700000000000,
	}
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerTranscript != nil {
				t.Error("expected nil transcript writer when disabled")
			}
			if p.writerRecognition != nil {
				t.Error("expected nil recognition writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:          false,
		Brokers:          []string{"localhost:9092"},
		TopicTranscript:  "test.transcript",
		TopicRecognition: "test.recognition",
		Principal:        "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicTranscript != "test.transcript" {
		t.Errorf("expected topic 'test.transcript', got %s", p.topicTranscript)
	}
	if p.topicRecognition != "test.recognition" {
		t.Errorf("expected topic 'test.recognition', got %s", p.topicRecognition)
	}
}

func TestPublisher_Disabled_ValidEvents(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.PublishTranscriptChange(context.Background(), transcriptEvent()); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishRecognition(context.Background(), recognitionEvent()); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_RejectsInvalidEvents(t *testing.T) {
	tw, rw := &fakeWriter{}, &fakeWriter{}
	p := newEnabled(tw, rw)

	bad := transcriptEvent()
	bad.ItemID = ""
	if err := p.PublishTranscriptChange(context.Background(), bad); !errors.Is(err, schema.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}

	badRec := recognitionEvent()
	badRec.Text = ""
	if err := p.PublishRecognition(context.Background(), badRec); !errors.Is(err, schema.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}

	if len(tw.msgs)+len(rw.msgs) != 0 {
		t.Error("invalid events must not reach Kafka")
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Create an unmarshalable value (channel)
	err := p.publish(context.Background(), nil, "test.topic", "test", "key", make(chan int))
	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_Enabled_RoutesByTopic(t *testing.T) {
	tw, rw := &fakeWriter{}, &fakeWriter{}
	p := newEnabled(tw, rw)

	if err := p.PublishTranscriptChange(context.Background(), transcriptEvent()); err != nil {
		t.Fatalf("PublishTranscriptChange() error = %v", err)
	}
	if err := p.PublishRecognition(context.Background(), recognitionEvent()); err != nil {
		t.Fatalf("PublishRecognition() error = %v", err)
	}

	if len(tw.msgs) != 1 || len(rw.msgs) != 1 {
		t.Fatalf("expected one message per writer, got %d and %d", len(tw.msgs), len(rw.msgs))
	}

	msg := tw.msgs[0]
	if string(msg.Key) != "cap-7" {
		t.Errorf("expected transcript key cap-7, got %s", msg.Key)
	}
	if string(rw.msgs[0].Key) != "sess-1" {
		t.Errorf("expected recognition key sess-1, got %s", rw.msgs[0].Key)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != models.EventTranscriptCreated {
		t.Errorf("unexpected eventType header %q", headers["eventType"])
	}
	if headers["principal"] != "test-svc" {
		t.Errorf("unexpected principal header %q", headers["principal"])
	}

	var decoded models.TranscriptChanged
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Content != "hello" || decoded.Speaker != "Alice" {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := newEnabled(&fakeWriter{}, &fakeWriter{err: boom})

	err := p.PublishRecognition(context.Background(), recognitionEvent())
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped write error, got %v", err)
	}
}

func TestPublisher_Close(t *testing.T) {
	tw, rw := &fakeWriter{}, &fakeWriter{}
	p := newEnabled(tw, rw)

	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !tw.closed || !rw.closed {
		t.Error("expected both writers closed")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}
