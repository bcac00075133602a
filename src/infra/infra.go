// Package infra owns the process-wide singletons every server main.go
// starts before serving traffic: the admin HTTP listener (/healthz,
// /metricsz, /checksz/sentryz), the Sentry client, and the OpenTelemetry
// tracer provider (exported to Honeycomb when configured), each returning
// a teardown func that main registers with cli.AtExit (§9, grounded
// on original_source/grpc_util/infra.rs, which is exactly this pattern in
// Rust).
package infra

import (
	"context"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/honeycombio/honeycomb-opentelemetry-go/launcher"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/thought-machine/rexec/src/cli/logging"
	"github.com/thought-machine/rexec/src/config"
	"github.com/thought-machine/rexec/src/metrics"
)

// Infra holds the started singletons for one process.
type Infra struct {
	admin *http.Server
}

// Start brings up the admin HTTP listener and the Sentry client (if a DSN
// is configured) for service serviceName, and returns an Infra whose
// Close tears both down. It does not start tracing — see StartTracing,
// which installs its TracerProvider globally for otelgrpc to pick up.
func Start(serviceName string, cfg config.InfraConfig) (*Infra, error) {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			ServerName:  serviceName,
			BeforeSend:  filterBenignEvents,
		}); err != nil {
			return nil, err
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metricsz", metrics.Handler())
	mux.HandleFunc("/checksz/sentryz", func(w http.ResponseWriter, r *http.Request) {
		sentry.CaptureMessage("checksz/sentryz test event")
		w.WriteHeader(http.StatusOK)
	})
	admin := &http.Server{Addr: cfg.AdminListenAddress, Handler: mux}
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.Errorf("admin listener on %s stopped: %s", cfg.AdminListenAddress, err)
		}
	}()
	return &Infra{admin: admin}, nil
}

// Close shuts down the admin listener and flushes any pending Sentry events.
func (i *Infra) Close() {
	sentry.Flush(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := i.admin.Shutdown(ctx); err != nil {
		logging.Log.Warning("admin listener shutdown: %s", err)
	}
}

// filterBenignEvents drops Sentry reports for status codes that are
// expected client behaviour rather than server faults, per §7's
// "Sentry reports are filtered to suppress known-benign codes (client
// cancellation, deadline exceeded, etc.)".
func filterBenignEvents(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if tag, ok := event.Tags["grpc.code"]; ok {
		switch tag {
		case "Canceled", "DeadlineExceeded":
			return nil
		}
	}
	return event
}

// StartTracing builds an OpenTelemetry TracerProvider for serviceName,
// installing it as the global provider so otelgrpc's interceptors (wired
// in src/grpcutil/server.go) pick it up without threading it through
// every call site. main registers the returned shutdown func with
// cli.AtExit.
//
// When cfg.HoneycombAPIKey is set, traces are exported to Honeycomb via
// honeycombio/honeycomb-opentelemetry-go's launcher, which configures the
// OTLP/gRPC exporter, sampler, and resource attributes Honeycomb expects.
// Without a key, a TracerProvider with no exporter is installed so
// otelgrpc's instrumentation has somewhere to write spans in dev/test
// without needing a collector.
func StartTracing(serviceName string, cfg config.InfraConfig) (func(context.Context) error, error) {
	if cfg.HoneycombAPIKey != "" {
		lcfg := launcher.NewConfig(
			serviceName,
			launcher.WithAccessKey(cfg.HoneycombAPIKey),
			launcher.WithDataset(cfg.HoneycombDataset),
		)
		shutdown, err := launcher.ConfigureOpenTelemetry(lcfg)
		if err != nil {
			return nil, err
		}
		return func(context.Context) error {
			shutdown()
			return nil
		}, nil
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
