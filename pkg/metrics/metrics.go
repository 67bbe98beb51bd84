package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replicactl_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replicactl_reconcile_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MembersKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replicactl_members_known",
			Help: "Number of member ips in the last applied or observed replica set membership",
		},
	)

	// Replica set operation metrics
	InitiationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replicactl_initiations_total",
			Help: "Total number of fresh replica set initiations",
		},
	)

	ReconfigsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicactl_reconfigs_total",
			Help: "Total number of replica set reconfigurations by force and outcome",
		},
		[]string{"force", "outcome"},
	)

	PrimaryElectionsObserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replicactl_primary_elections_observed_total",
			Help: "Total number of times a new primary was observed after a membership change",
		},
	)
)

func init() {
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(MembersKnown)
	prometheus.MustRegister(InitiationsTotal)
	prometheus.MustRegister(ReconfigsTotal)
	prometheus.MustRegister(PrimaryElectionsObserved)
}

// Timer measures elapsed time for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome label helper for ReconfigsTotal.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
