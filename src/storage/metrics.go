package storage

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thought-machine/rexec/src/digest"
)

// Observability labels match the teacher's prometheus.go convention of
// registering a fixed label set up front rather than building ad hoc
// label maps per call site.
var (
	requestsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolchain_storage_requests_started_total",
		Help: "Storage driver calls started, by operation/driver/purpose.",
	}, metricLabels)
	requestsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolchain_storage_requests_handled_total",
		Help: "Storage driver calls completed, by operation/driver/purpose/result.",
	}, metricLabels)
	requestHandlingSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolchain_storage_requests_handling_seconds",
		Help:    "Storage driver call latency.",
		Buckets: prometheus.DefBuckets,
	}, metricLabels)
	timeToFirstByteSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolchain_storage_time_to_first_byte_seconds",
		Help:    "Latency to the first byte of a read.",
		Buckets: prometheus.DefBuckets,
	}, metricLabels)
	bytesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolchain_storage_bytes_read_total",
		Help: "Bytes read from the storage driver.",
	}, metricLabels)
	bytesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolchain_storage_bytes_written_total",
		Help: "Bytes written to the storage driver.",
	}, metricLabels)
)

var metricLabels = []string{"operation", "driver", "purpose", "leaf", "result", "reapi_instance"}

func init() {
	prometheus.MustRegister(requestsStarted, requestsHandled, requestHandlingSeconds, timeToFirstByteSeconds, bytesRead, bytesWritten)
}

// Metrics wraps a driver with the observability shim described in §4.2:
// request counts, handling latency, time-to-first-byte on reads, and byte
// counters, all labelled {operation, driver, purpose, leaf, result,
// reapi_instance}.
type Metrics struct {
	Inner   BlobStorage
	Driver  string // identifies which driver this wraps, e.g. "redis", "file"
	Purpose string // e.g. "cas", "action-cache"
	Leaf    bool   // true if this is the innermost (leaf) driver in the pipeline
}

// NewMetrics wraps inner with the standard storage observability shim.
func NewMetrics(inner BlobStorage, driver, purpose string, leaf bool) *Metrics {
	return &Metrics{Inner: inner, Driver: driver, Purpose: purpose, Leaf: leaf}
}

func (m *Metrics) leafLabel() string {
	if m.Leaf {
		return "true"
	}
	return "false"
}

func (m *Metrics) labels(operation, instance, result string) prometheus.Labels {
	return prometheus.Labels{
		"operation":      operation,
		"driver":         m.Driver,
		"purpose":        m.Purpose,
		"leaf":           m.leafLabel(),
		"result":         result,
		"reapi_instance": instance,
	}
}

func (m *Metrics) observe(operation, instance string, f func() error) error {
	requestsStarted.With(m.labels(operation, instance, "")).Inc()
	start := time.Now()
	err := f()
	result := "ok"
	if err != nil {
		result = CodeOf(err).String()
	}
	labels := m.labels(operation, instance, result)
	requestsHandled.With(labels).Inc()
	requestHandlingSeconds.With(labels).Observe(time.Since(start).Seconds())
	return err
}

func (m *Metrics) EnsureInstance(ctx context.Context, instance string) error {
	return m.observe("ensure_instance", instance, func() error {
		return m.Inner.EnsureInstance(ctx, instance)
	})
}

func (m *Metrics) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	var missing []digest.Digest
	err := m.observe("find_missing", instance, func() error {
		var err error
		missing, err = m.Inner.FindMissing(ctx, instance, digests)
		return err
	})
	return missing, err
}

func (m *Metrics) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	requestsStarted.With(m.labels("read", instance, "")).Inc()
	start := time.Now()
	r, found, err := m.Inner.Read(ctx, instance, d, opts)
	result := "ok"
	if err != nil {
		result = CodeOf(err).String()
	} else if !found {
		result = "not_found"
	}
	labels := m.labels("read", instance, result)
	requestsHandled.With(labels).Inc()
	requestHandlingSeconds.With(labels).Observe(time.Since(start).Seconds())
	if !found || err != nil {
		return r, found, err
	}
	return &metricsReader{r: r, m: m, instance: instance, firstByte: start, labels: labels}, true, nil
}

type metricsReader struct {
	r         io.ReadCloser
	m         *Metrics
	instance  string
	firstByte time.Time
	labels    prometheus.Labels
	sawFirst  bool
}

func (r *metricsReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if !r.sawFirst {
			r.sawFirst = true
			timeToFirstByteSeconds.With(r.labels).Observe(time.Since(r.firstByte).Seconds())
		}
		bytesRead.With(r.labels).Add(float64(n))
	}
	return n, err
}

func (r *metricsReader) Close() error { return r.r.Close() }

func (m *Metrics) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	var attempt WriteAttempt
	err := m.observe("begin_write", instance, func() error {
		var err error
		attempt, err = m.Inner.BeginWrite(ctx, instance, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &metricsWrite{inner: attempt, m: m, instance: instance}, nil
}

type metricsWrite struct {
	inner    WriteAttempt
	m        *Metrics
	instance string
}

func (w *metricsWrite) Write(ctx context.Context, p []byte) error {
	err := w.inner.Write(ctx, p)
	if err == nil {
		bytesWritten.With(w.m.labels("write", w.instance, "ok")).Add(float64(len(p)))
	}
	return err
}

func (w *metricsWrite) Commit(ctx context.Context) error {
	return w.m.observe("commit", w.instance, func() error {
		return w.inner.Commit(ctx)
	})
}

func (w *metricsWrite) Close() error { return w.inner.Close() }
