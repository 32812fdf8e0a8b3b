package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription relay.
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsFinalized *prometheus.CounterVec
	SessionDuration   prometheus.Histogram

	// Audio frame metrics
	FramesReceived  prometheus.Counter
	FramesForwarded prometheus.Counter
	FramesDropped   prometheus.Counter

	// Persistence metrics
	ChunksPersisted prometheus.Counter
	PersistFailures prometheus.Counter

	// Upstream metrics
	TranscriptEvents     *prometheus.CounterVec
	UpstreamDialFailures prometheus.Counter
	RecordSaveFailures   prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metric set on a caller-supplied registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicejournal_active_sessions",
			Help: "Current number of live transcription sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicejournal_sessions_created_total",
			Help: "Total number of transcription sessions created",
		}),
		SessionsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicejournal_sessions_finalized_total",
			Help: "Total number of sessions finalized, by termination reason",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicejournal_session_duration_seconds",
			Help:    "Duration of transcription sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicejournal_frames_received_total",
			Help: "Total number of audio frames received from clients",
		}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicejournal_frames_forwarded_total",
			Help: "Total number of audio frames forwarded upstream",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicejournal_frames_dropped_total",
			Help: "Total number of audio frames dropped because upstream was unavailable",
		}),

		ChunksPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicejournal_chunks_persisted_total",
			Help: "Total number of audio frames durably stored",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicejournal_persist_failures_total",
			Help: "Total number of audio frames that failed to store",
		}),

		TranscriptEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicejournal_transcript_events_total",
			Help: "Total number of transcript events received from upstream, by kind",
		}, []string{"kind"}),
		UpstreamDialFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicejournal_upstream_dial_failures_total",
			Help: "Total number of failed upstream connection attempts",
		}),
		RecordSaveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicejournal_record_save_failures_total",
			Help: "Total number of session records that failed to persist on finalize",
		}),
	}
}
