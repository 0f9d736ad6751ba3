package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxgo_active_sessions",
			Help: "Number of sessions currently in the active table",
		},
	)

	interactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxgo_interactions_total",
			Help: "Total number of processed interactions",
		},
		[]string{"outcome"}, // first, enhanced, fallback
	)

	sessionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voxgo_sessions_swept_total",
			Help: "Total number of sessions removed by the idle sweep",
		},
	)

	sessionsRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voxgo_sessions_recovered_total",
			Help: "Total number of sessions recovered from snapshots",
		},
	)

	// Generation collaborator metrics
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxgo_generation_duration_seconds",
			Help:    "Generation call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"}, // base, classify, enhance, summarize
	)

	generationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxgo_generation_failures_total",
			Help: "Total number of failed generation calls",
		},
		[]string{"op"},
	)

	// Persistence metrics
	autoSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxgo_auto_saves_total",
			Help: "Total number of auto-save attempts",
		},
		[]string{"status"}, // saved, throttled, failed
	)

	archivesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxgo_archives_total",
			Help: "Total number of archive writes",
		},
		[]string{"status"}, // ok, failed
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			activeSessions,
			interactionsTotal,
			sessionsSweptTotal,
			sessionsRecoveredTotal,
			generationDuration,
			generationFailuresTotal,
			autoSavesTotal,
			archivesTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetActiveSessions records the current active-table size.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordInteraction records a completed interaction by outcome.
func RecordInteraction(outcome string) {
	interactionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSweep records sessions removed by one sweep pass.
func RecordSweep(removed int) {
	sessionsSweptTotal.Add(float64(removed))
}

// RecordRecovery records a successful snapshot recovery.
func RecordRecovery() {
	sessionsRecoveredTotal.Inc()
}

// RecordGeneration records a generation call's duration and outcome.
func RecordGeneration(op string, duration time.Duration, err error) {
	generationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		generationFailuresTotal.WithLabelValues(op).Inc()
	}
}

// RecordAutoSave records an auto-save attempt.
func RecordAutoSave(status string) {
	autoSavesTotal.WithLabelValues(status).Inc()
}

// RecordArchive records an archive write.
func RecordArchive(err error) {
	if err != nil {
		archivesTotal.WithLabelValues("failed").Inc()
		return
	}
	archivesTotal.WithLabelValues("ok").Inc()
}
