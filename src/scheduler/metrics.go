package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	actionsQueued = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rexec_scheduler_actions_queued",
		Help: "Actions currently waiting for a worker.",
	}, []string{"instance"})

	actionsRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rexec_scheduler_actions_running",
		Help: "Actions currently leased to a worker.",
	}, []string{"instance"})

	leasesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rexec_scheduler_leases_completed_total",
		Help: "Leases that reached a terminal state, by outcome.",
	}, []string{"outcome"})

	actionLeaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rexec_scheduler_lease_duration_seconds",
		Help:    "Time a lease spent running before completing or being cancelled.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(actionsQueued, actionsRunning, leasesCompleted, actionLeaseDuration)
}
