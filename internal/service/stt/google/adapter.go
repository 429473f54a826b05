// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-call-presence-service/internal/observability"
	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/service/stt"
)

const provider = "google"

// Config holds Google Speech settings.
type Config struct {
	LanguageCode  string
	SampleRateHz  int32
	AudioEncoding string // speechpb encoding name, uppercase
	Model         string
}

// DefaultConfig returns the defaults for telephony-grade audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  8000,
		AudioEncoding: "LINEAR16",
	}
}

func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// Adapter implements stt.Recognizer using Google Cloud Speech-to-Text batch recognition.
type Adapter struct {
	client  recognizeClient
	config  Config
	metrics *metrics.Metrics
}

// recognizeClient narrows *speech.Client so tests can substitute it.
type recognizeClient interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type clientWrapper struct {
	c *speech.Client
}

func (w clientWrapper) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return w.c.Recognize(ctx, req)
}

func (w clientWrapper) Close() error { return w.c.Close() }

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config, m *metrics.Metrics, opts ...option.ClientOption) (*Adapter, error) {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	opts = append(opts, option.WithGRPCDialOption(
		grpc.WithChainUnaryInterceptor(observability.UnaryClientInterceptor(m, provider)),
	))
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Adapter{client: clientWrapper{c: c}, config: cfg, metrics: m}, nil
}

func newWithClient(c recognizeClient, cfg Config) *Adapter {
	return &Adapter{client: c, config: cfg, metrics: metrics.DefaultMetrics}
}

// Recognize submits the audio span and returns the top alternative of the first result.
func (a *Adapter) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	rate := a.config.SampleRateHz
	if req.SampleRate > 0 {
		rate = int32(req.SampleRate)
	}

	resp, err := a.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        parseAudioEncoding(a.config.AudioEncoding),
			SampleRateHertz: rate,
			LanguageCode:    a.config.LanguageCode,
			Model:           a.config.Model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio},
		},
	})
	if err != nil {
		err = classify(err)
		a.metrics.RecordSTTError(provider, stt.ErrorType(err))
		return stt.Result{}, err
	}

	for _, r := range resp.GetResults() {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}
		return stt.Result{Text: alt.Transcript, Confidence: float64(alt.Confidence)}, nil
	}

	a.metrics.RecordSTTError(provider, "not_understood")
	return stt.Result{}, fmt.Errorf("google: empty result for chunks %d-%d: %w", req.FirstIndex, req.LastIndex, stt.ErrNotUnderstood)
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// classify maps gRPC status codes to stt failure classes.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("google: %v: %w", err, stt.ErrServiceError)
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return fmt.Errorf("google: %s: %w", st.Message(), context.DeadlineExceeded)
	case codes.InvalidArgument, codes.OutOfRange:
		return fmt.Errorf("google: %s: %w", st.Message(), stt.ErrNotUnderstood)
	default:
		return fmt.Errorf("google: %s (%s): %w", st.Message(), st.Code(), stt.ErrServiceError)
	}
}
