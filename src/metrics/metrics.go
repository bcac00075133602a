// Package metrics holds the observability plumbing shared by all three
// servers: the admin /metricsz exposition handler and a bounded in-flight
// request gauge, grounded on the teacher's pattern of a package-level
// lazily-registered Prometheus registry (src/metrics/prometheus.go in the
// teacher repo pushed build metrics to a gateway; this cluster is scraped
// instead, per spec §6's admin endpoints, so the registry is exposed over
// HTTP rather than pushed). Per-component request/latency counters (storage
// driver calls, scheduler lease outcomes) are registered directly against
// the default registry by their own packages; this package only owns the
// handler and the cross-cutting backpressure gauge described in §5.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default Prometheus registry in text exposition format.
// Each server's main.go mounts it at GET /metricsz on its admin listener,
// separate from the gRPC service socket (§6).
func Handler() http.Handler {
	return promhttp.Handler()
}

// InFlight is a bounded in-process counter of requests currently being
// served. The proxy uses one to cap concurrent in-flight requests
// independent of the gRPC server's own max-concurrent-streams option, per
// §5's "bounded in-proxy in-flight request counter (reported as a gauge)".
type InFlight struct {
	gauge prometheus.Gauge
	sem   chan struct{}
}

// NewInFlight constructs an InFlight limiter registering a gauge called
// name. A non-positive limit means report-only: the gauge still tracks
// concurrency but Acquire never blocks.
func NewInFlight(name, help string, limit int) *InFlight {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	prometheus.MustRegister(g)
	f := &InFlight{gauge: g}
	if limit > 0 {
		f.sem = make(chan struct{}, limit)
	}
	return f
}

// Acquire blocks until a slot is free or ctx is done, then marks one more
// request in flight. The returned release func must be called exactly once
// to free the slot; it is nil if Acquire returned an error.
func (f *InFlight) Acquire(ctx context.Context) (release func(), err error) {
	if f.sem != nil {
		select {
		case f.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.gauge.Inc()
	return func() {
		f.gauge.Dec()
		if f.sem != nil {
			<-f.sem
		}
	}, nil
}
