package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContainersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dockerizer_containers_active",
			Help: "Currently registered containers by lifecycle state",
		},
		[]string{"state"},
	)

	LaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockerizer_launches_total",
			Help: "Total launch attempts by outcome",
		},
		[]string{"outcome"},
	)

	LaunchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dockerizer_launch_duration_seconds",
			Help:    "Time from launch() to the executor's reap being armed",
			Buckets: prometheus.DefBuckets,
		},
	)

	DestroysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockerizer_destroys_total",
			Help: "Total teardown completions by whether they were killed or a natural exit",
		},
		[]string{"killed"},
	)

	DestroyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dockerizer_destroy_duration_seconds",
			Help:    "Time from destroy() to teardown completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	PullsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockerizer_image_pulls_total",
			Help: "Total docker pull attempts by outcome",
		},
		[]string{"outcome"},
	)

	PullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dockerizer_image_pull_duration_seconds",
			Help:    "Time spent in docker pull",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	CgroupWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dockerizer_cgroup_write_duration_seconds",
			Help:    "Time spent writing to a cgroup subsystem",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subsystem"},
	)

	ResourceUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockerizer_resource_updates_total",
			Help: "Total update() resource calls by outcome",
		},
		[]string{"outcome"},
	)

	RecoveredContainersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockerizer_recovered_containers_total",
			Help: "Total containers reattached or orphan-swept during recovery",
		},
		[]string{"outcome"},
	)

	UsageProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dockerizer_usage_probe_duration_seconds",
			Help:    "Time spent collecting resource usage for a single container",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ContainersActive)
	prometheus.MustRegister(LaunchesTotal)
	prometheus.MustRegister(LaunchDuration)
	prometheus.MustRegister(DestroysTotal)
	prometheus.MustRegister(DestroyDuration)
	prometheus.MustRegister(PullsTotal)
	prometheus.MustRegister(PullDuration)
	prometheus.MustRegister(CgroupWriteDuration)
	prometheus.MustRegister(ResourceUpdatesTotal)
	prometheus.MustRegister(RecoveredContainersTotal)
	prometheus.MustRegister(UsageProbeDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
