// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/schema"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes pipeline events to separate Kafka topics.
type Publisher struct {
	writerTranscript  messageWriter
	writerRecognition messageWriter
	principal         string
	topicTranscript   string
	topicRecognition  string
	enabled           bool
	validator         *schema.Validator
	metrics           *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicTranscript  string
	TopicRecognition string
	Principal        string
	Enabled          bool
}

// New creates a new Kafka event publisher with separate topics for transcript
// changes and recognitions.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			validator: v,
			metrics:   m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:        cfg.Principal,
			topicTranscript:  cfg.TopicTranscript,
			topicRecognition: cfg.TopicRecognition,
			enabled:          false,
			validator:        v,
			metrics:          m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicRecognition", cfg.TopicRecognition).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTranscript:  newWriter(cfg.TopicTranscript),
		writerRecognition: newWriter(cfg.TopicRecognition),
		principal:         cfg.Principal,
		topicTranscript:   cfg.TopicTranscript,
		topicRecognition:  cfg.TopicRecognition,
		enabled:           true,
		validator:         v,
		metrics:           m,
	}
}

// PublishTranscriptChange publishes a created or updated transcript item.
// Items are keyed by ID so revisions of one caption land on one partition.
func (p *Publisher) PublishTranscriptChange(ctx context.Context, ev models.TranscriptChanged) error {
	if err := p.validator.Validate(ev); err != nil {
		log.Warn().Err(err).Str("itemId", ev.ItemID).Msg("Dropping invalid transcript event")
		return err
	}
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, ev.EventType, ev.ItemID, ev)
}

// PublishRecognition publishes a recognized audio window, keyed by session.
func (p *Publisher) PublishRecognition(ctx context.Context, ev models.Recognition) error {
	if err := p.validator.Validate(ev); err != nil {
		log.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Dropping invalid recognition event")
		return err
	}
	return p.publish(ctx, p.writerRecognition, p.topicRecognition, ev.EventType, ev.SessionID, ev)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return fmt.Errorf("write to %s: %w", topic, err)
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscript != nil {
		if e := p.writerTranscript.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcript writer")
			err = e
		}
	}
	if p.writerRecognition != nil {
		if e := p.writerRecognition.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing recognition writer")
			err = e
		}
	}
	return err
}
