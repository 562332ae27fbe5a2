package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// authEvents counts signup/login/logout outcomes.
	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_auth_events_total",
			Help: "Authentication events by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	// generationDur records generator latency, including time spent waiting
	// for a concurrency slot.
	generationDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_generation_duration_seconds",
			Help:    "Duration of response generation calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// uploads counts attachment uploads by resulting kind and outcome.
	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_uploads_total",
			Help: "Attachment uploads by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(authEvents, generationDur, uploads)
}

// RecordAuth counts an authentication event such as ("login", "ok").
func RecordAuth(action, outcome string) {
	authEvents.WithLabelValues(action, outcome).Inc()
}

// ObserveGeneration records one generator call.
func ObserveGeneration(outcome string, d time.Duration) {
	generationDur.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordUpload counts one attachment upload.
func RecordUpload(kind, outcome string) {
	uploads.WithLabelValues(kind, outcome).Inc()
}
