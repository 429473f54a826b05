package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/observability/metrics"
)

const providerElevenLabsWS = "elevenlabs_ws"

// StreamClient synthesizes incrementally over the ElevenLabs input-streaming websocket:
// text goes in as it is produced and audio frames come back as they are generated.
type StreamClient struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewStreamClient creates a websocket streaming client.
func NewStreamClient(cfg Config) (*StreamClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	return &StreamClient{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  log.With().Str("component", "tts.elevenlabs_ws").Logger(),
		metrics: metrics.DefaultMetrics,
	}, nil
}

type streamMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

type streamFrame struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
}

// Stream sends every text received on texts and calls onAudio for each decoded
// audio frame. Closing texts sends the end-of-stream marker; Stream returns once
// the service sends its final frame or closes the connection normally.
func (s *StreamClient) Stream(ctx context.Context, texts <-chan string, onAudio func([]byte)) error {
	err := s.stream(ctx, texts, onAudio)
	s.metrics.RecordTTSRequest(providerElevenLabsWS, err)
	return err
}

func (s *StreamClient) stream(ctx context.Context, texts <-chan string, onAudio func([]byte)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/stream-input?model_id=%s&output_format=%s",
		s.cfg.WSURL, url.PathEscape(s.cfg.VoiceID), url.QueryEscape(s.cfg.ModelID), url.QueryEscape(s.cfg.OutputFormat))

	headers := http.Header{}
	headers.Set("xi-api-key", s.cfg.APIKey)

	conn, resp, err := s.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return WrapError(providerElevenLabsWS, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		}
		return WrapError(providerElevenLabsWS, fmt.Errorf("websocket dial failed: %w", err))
	}
	defer conn.Close()

	// Unblock the read loop when the caller gives up.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	settings := s.cfg.voiceSettings()
	if err := conn.WriteJSON(streamMessage{Text: " ", VoiceSettings: &settings}); err != nil {
		return WrapError(providerElevenLabsWS, fmt.Errorf("send BOS: %w", err))
	}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- s.writeLoop(ctx, conn, texts)
	}()

	frames := 0
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			select {
			case werr := <-writeErr:
				if werr != nil {
					return werr
				}
			default:
			}
			return WrapError(providerElevenLabsWS, fmt.Errorf("%w after %d frames: %v", ErrStreamClosed, frames, err))
		}

		var frame streamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse stream frame")
			continue
		}

		if frame.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to decode audio frame")
				continue
			}
			frames++
			if onAudio != nil {
				onAudio(audio)
			}
		}

		if frame.IsFinal {
			s.logger.Debug().Int("frames", frames).Msg("Stream complete")
			return nil
		}
	}
}

// writeLoop forwards texts to the connection and sends EOS when texts closes.
func (s *StreamClient) writeLoop(ctx context.Context, conn *websocket.Conn, texts <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-texts:
			if !ok {
				if err := conn.WriteJSON(streamMessage{Text: ""}); err != nil {
					return WrapError(providerElevenLabsWS, fmt.Errorf("send EOS: %w", err))
				}
				return nil
			}
			if text == "" {
				// An empty text would end the stream early.
				continue
			}
			if err := conn.WriteJSON(streamMessage{Text: text, TryTriggerGeneration: true}); err != nil {
				return WrapError(providerElevenLabsWS, fmt.Errorf("send text: %w", err))
			}
		}
	}
}

// Fetch synthesizes one text over a fresh stream and returns the joined audio.
func (s *StreamClient) Fetch(ctx context.Context, text string) ([]byte, error) {
	texts := make(chan string, 1)
	texts <- text
	close(texts)

	var buf bytes.Buffer
	err := s.Stream(ctx, texts, func(audio []byte) {
		buf.Write(audio)
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
