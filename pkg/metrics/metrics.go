package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Loader metrics
	ServersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "treadmill_servers_total",
			Help: "Total number of servers by partition and state",
		},
		[]string{"partition", "state"},
	)

	AppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "treadmill_apps_total",
			Help: "Total number of scheduled applications known to the model",
		},
	)

	PlacedAppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "treadmill_apps_placed_total",
			Help: "Total number of applications with a server assigned",
		},
	)

	LoadModelDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treadmill_load_model_duration_seconds",
			Help:    "Time taken to rebuild the cell model from the store",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treadmill_placement_latency_seconds",
			Help:    "Time taken to find a server for an application",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementsSucceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "treadmill_placements_succeeded_total",
			Help: "Total number of successful placement decisions",
		},
	)

	PlacementsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "treadmill_placements_failed_total",
			Help: "Total number of placement decisions that found no server",
		},
	)

	IntegrityViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "treadmill_integrity_violations_total",
			Help: "Total number of unexplained duplicate/orphaned placement records found",
		},
	)

	// App-monitor metrics
	AppMonitorAvailableTokens = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "treadmill_appmonitor_available_tokens",
			Help: "Current available creation tokens per monitor",
		},
		[]string{"app"},
	)

	AppMonitorCreatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treadmill_appmonitor_creates_total",
			Help: "Total number of instance creations issued by the app-monitor",
		},
		[]string{"app"},
	)

	AppMonitorDeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treadmill_appmonitor_deletes_total",
			Help: "Total number of instance deletions issued by the app-monitor",
		},
		[]string{"app"},
	)

	AppMonitorTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treadmill_appmonitor_tick_duration_seconds",
			Help:    "Time taken for one app-monitor reevaluation tick",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ServersTotal)
	prometheus.MustRegister(AppsTotal)
	prometheus.MustRegister(PlacedAppsTotal)
	prometheus.MustRegister(LoadModelDuration)
	prometheus.MustRegister(PlacementLatency)
	prometheus.MustRegister(PlacementsSucceeded)
	prometheus.MustRegister(PlacementsFailed)
	prometheus.MustRegister(IntegrityViolationsTotal)
	prometheus.MustRegister(AppMonitorAvailableTokens)
	prometheus.MustRegister(AppMonitorCreatesTotal)
	prometheus.MustRegister(AppMonitorDeletesTotal)
	prometheus.MustRegister(AppMonitorTickDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
