// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_call_presence"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Transcript store metrics
	TranscriptWrites *prometheus.CounterVec
	TranscriptItems  prometheus.Gauge

	// Segmenter metrics
	UnitsSegmented *prometheus.CounterVec

	// Synthesizer metrics
	SynthInvocations  prometheus.Counter
	SynthUnits        *prometheus.CounterVec
	SynthFetchLatency prometheus.Histogram
	SynthInFlight     prometheus.Gauge
	SynthPlaybackWait prometheus.Histogram
	RouteSwitchErrors *prometheus.CounterVec

	// Recognizer metrics
	AudioChunksReceived prometheus.Counter
	AudioBytesReceived  prometheus.Counter
	AudioChunksDropped  prometheus.Counter
	CaptureTimeouts     prometheus.Counter
	RecognitionRequests *prometheus.CounterVec
	RecognitionFailures *prometheus.CounterVec
	RecognitionWindow   prometheus.Histogram

	// STT provider metrics
	STTLatency *prometheus.HistogramVec
	STTErrors  *prometheus.CounterVec

	// TTS provider metrics
	TTSRequests *prometheus.CounterVec
	TTSCache    *prometheus.CounterVec

	// Caption polling metrics
	CaptionPolls      prometheus.Counter
	CaptionPollErrors prometheus.Counter

	// LLM metrics
	LLMRequests *prometheus.CounterVec
	LLMErrors   *prometheus.CounterVec
	LLMLatency  prometheus.Histogram

	// Control operation metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TranscriptWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_writes_total",
			Help:      "Transcript store writes by result",
		}, []string{"result"}),
		TranscriptItems: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcript_items",
			Help:      "Distinct items in the transcript store",
		}),

		UnitsSegmented: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "text_units_total",
			Help:      "Text units produced by the segmenter",
		}, []string{"mode"}),

		SynthInvocations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_invocations_total",
			Help:      "Total number of synthesizer invocations",
		}),
		SynthUnits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_units_total",
			Help:      "Synthesized units by outcome",
		}, []string{"outcome"}),
		SynthFetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synth_fetch_latency_seconds",
			Help:      "Speech synthesis fetch latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		SynthInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synth_fetches_in_flight",
			Help:      "Speech synthesis fetches currently running",
		}),
		SynthPlaybackWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synth_playback_wait_seconds",
			Help:      "Time the playback driver waited for a unit to become ready",
			Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		RouteSwitchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_switch_errors_total",
			Help:      "Failed audio route switches",
		}, []string{"direction"}),

		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Audio chunks received by the recognizer",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Audio bytes received by the recognizer",
		}),
		AudioChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Audio chunks dropped for arriving out of order",
		}),
		CaptureTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_timeouts_total",
			Help:      "Capture listens that timed out without audio",
		}),
		RecognitionRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_requests_total",
			Help:      "Recognition requests submitted",
		}, []string{"mode"}),
		RecognitionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_failures_total",
			Help:      "Recognition requests that failed",
		}, []string{"mode", "error_type"}),
		RecognitionWindow: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_window_seconds",
			Help:      "Audio duration submitted per recognition request",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32},
		}),

		STTLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Speech-to-text call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider", "method"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		TTSRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_requests_total",
			Help:      "Speech synthesis requests by provider and result",
		}, []string{"provider", "result"}),
		TTSCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_cache_total",
			Help:      "Synthesis cache lookups",
		}, []string{"result"}),

		CaptionPolls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caption_polls_total",
			Help:      "Caption polls against the call UI",
		}),
		CaptionPollErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caption_poll_errors_total",
			Help:      "Caption polls that failed",
		}),

		LLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Chat completion requests",
		}, []string{"mode"}),
		LLMErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "Chat completion requests that failed",
		}, []string{"mode"}),
		LLMLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Chat completion latency to first token or full response",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Control operations (say, reply, play) by result",
		}, []string{"operation", "result"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time from request to the end of playback",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"operation"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordTranscriptWrite records a store write and the resulting item count.
func (m *Metrics) RecordTranscriptWrite(result string, items int) {
	m.TranscriptWrites.WithLabelValues(result).Inc()
	m.TranscriptItems.Set(float64(items))
}

// RecordUnits records units produced by the segmenter.
func (m *Metrics) RecordUnits(mode string, n int) {
	m.UnitsSegmented.WithLabelValues(mode).Add(float64(n))
}

// RecordFetchStart records a synthesis fetch starting.
func (m *Metrics) RecordFetchStart() {
	m.SynthInFlight.Inc()
}

// RecordFetchEnd records a synthesis fetch finishing.
func (m *Metrics) RecordFetchEnd(latencySeconds float64) {
	m.SynthInFlight.Dec()
	m.SynthFetchLatency.Observe(latencySeconds)
}

// RecordUnitPlayed records a unit that reached the sink.
func (m *Metrics) RecordUnitPlayed(waitSeconds float64) {
	m.SynthUnits.WithLabelValues("played").Inc()
	m.SynthPlaybackWait.Observe(waitSeconds)
}

// RecordUnitSkipped records a unit skipped in playback.
func (m *Metrics) RecordUnitSkipped(reason string) {
	m.SynthUnits.WithLabelValues(reason).Inc()
}

// RecordRouteError records a failed route switch.
func (m *Metrics) RecordRouteError(direction string) {
	m.RouteSwitchErrors.WithLabelValues(direction).Inc()
}

// RecordAudioReceived records an audio chunk entering the recognizer.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioChunksReceived.Inc()
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordRecognition records a recognition request and its outcome.
func (m *Metrics) RecordRecognition(mode, errorType string, windowSeconds float64) {
	m.RecognitionRequests.WithLabelValues(mode).Inc()
	m.RecognitionWindow.Observe(windowSeconds)
	if errorType != "" {
		m.RecognitionFailures.WithLabelValues(mode, errorType).Inc()
	}
}

// RecordSTTCall records a call to an STT provider.
func (m *Metrics) RecordSTTCall(provider, method string, latencySeconds float64) {
	m.STTLatency.WithLabelValues(provider, method).Observe(latencySeconds)
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordTTSRequest records a synthesis request against a provider.
func (m *Metrics) RecordTTSRequest(provider string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TTSRequests.WithLabelValues(provider, result).Inc()
}

// RecordTTSCache records a cache hit or miss.
func (m *Metrics) RecordTTSCache(hit bool) {
	if hit {
		m.TTSCache.WithLabelValues("hit").Inc()
		return
	}
	m.TTSCache.WithLabelValues("miss").Inc()
}

// RecordCaptionPoll records a caption poll.
func (m *Metrics) RecordCaptionPoll(err error) {
	m.CaptionPolls.Inc()
	if err != nil {
		m.CaptionPollErrors.Inc()
	}
}

// RecordLLMRequest records a chat completion request.
func (m *Metrics) RecordLLMRequest(mode string, err error, latencySeconds float64) {
	m.LLMRequests.WithLabelValues(mode).Inc()
	m.LLMLatency.Observe(latencySeconds)
	if err != nil {
		m.LLMErrors.WithLabelValues(mode).Inc()
	}
}

// RecordOperation records a finished control operation.
func (m *Metrics) RecordOperation(operation string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
