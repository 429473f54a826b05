// Package schema validates outbound events before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"ai-call-presence-service/internal/models"
)

var (
	// ErrInvalidEvent is wrapped by every *ValidationError.
	ErrInvalidEvent = errors.New("schema: invalid event")
	// ErrUnknownEvent is returned for event types without a schema.
	ErrUnknownEvent = errors.New("schema: unknown event type")
)

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	EventType string
	Fields    []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: invalid %s event: %s", e.EventType, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks required fields of a known event.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case *models.TranscriptChanged:
		if ev == nil {
			return fmt.Errorf("%w: nil event", ErrInvalidEvent)
		}
		return validateTranscriptChanged(*ev)
	case models.TranscriptChanged:
		return validateTranscriptChanged(ev)
	case *models.Recognition:
		if ev == nil {
			return fmt.Errorf("%w: nil event", ErrInvalidEvent)
		}
		return validateRecognition(*ev)
	case models.Recognition:
		return validateRecognition(ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
}

func validateTranscriptChanged(ev models.TranscriptChanged) error {
	var bad []string
	if ev.EventType != models.EventTranscriptCreated && ev.EventType != models.EventTranscriptUpdated {
		bad = append(bad, "eventType")
	}
	if ev.SessionID == "" {
		bad = append(bad, "sessionId")
	}
	if ev.ItemID == "" {
		bad = append(bad, "itemId")
	}
	if ev.Timestamp <= 0 {
		bad = append(bad, "timestamp")
	}
	return result(ev.EventType, bad)
}

func validateRecognition(ev models.Recognition) error {
	var bad []string
	if ev.EventType != models.EventRecognition {
		bad = append(bad, "eventType")
	}
	if ev.SessionID == "" {
		bad = append(bad, "sessionId")
	}
	if ev.SegmentID == "" {
		bad = append(bad, "segmentId")
	}
	if ev.Mode == "" {
		bad = append(bad, "mode")
	}
	if ev.FirstIndex < 0 || ev.LastIndex < ev.FirstIndex {
		bad = append(bad, "firstIndex/lastIndex")
	}
	if strings.TrimSpace(ev.Text) == "" {
		bad = append(bad, "text")
	}
	if ev.Timestamp <= 0 {
		bad = append(bad, "timestamp")
	}
	return result(ev.EventType, bad)
}

func result(eventType string, bad []string) error {
	if len(bad) == 0 {
		return nil
	}
	if eventType == "" {
		eventType = "untyped"
	}
	return &ValidationError{EventType: eventType, Fields: bad}
}
