package redis

import "github.com/prometheus/client_golang/prometheus"

var queueTime = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "toolchain_storage_redis_request_queued_duration_seconds",
	Help:    "Time a Redis request spent waiting for a free pool worker.",
	Buckets: prometheus.DefBuckets,
})

func init() {
	prometheus.MustRegister(queueTime)
}
