package authproxy

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thought-machine/rexec/src/metrics"
)

// Observability labels match the storage package's convention of a fixed
// label set registered up front.
var requestsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "toolchain_proxy_requests_handled_total",
	Help: "Proxy RPCs completed, by rpc/result.",
}, []string{"rpc", "result"})

func init() {
	prometheus.MustRegister(requestsHandled)
}

// finishGuard records exactly one completion metric for an RPC even if the
// caller never observes a response (a client disconnect unwinds back
// through this guard's defer), per §4.4's "request-finish metric is
// recorded via a drop guard so that client disconnects are still
// accounted as CANCELED".
type finishGuard struct {
	rpc      string
	recorded bool
}

func startRPC(rpc string) *finishGuard {
	return &finishGuard{rpc: rpc}
}

// done records result exactly once; subsequent calls (including the
// deferred drop-guard call) are no-ops.
func (g *finishGuard) done(err error) {
	if g.recorded {
		return
	}
	g.recorded = true
	requestsHandled.WithLabelValues(g.rpc, resultLabel(err)).Inc()
}

// drop is deferred immediately after startRPC; if the call path already
// called done, this records nothing further, but if the caller's
// goroutine unwound early (e.g. ctx cancelled before the backend
// responded) it records Canceled.
func (g *finishGuard) drop(ctx context.Context) {
	if g.recorded {
		return
	}
	if ctx.Err() != nil {
		g.done(status.Error(codes.Canceled, ctx.Err().Error()))
		return
	}
	g.done(nil)
}

func resultLabel(err error) string {
	if err == nil {
		return "Ok"
	}
	return status.Convert(err).Code().String()
}

// inFlight bounds the number of concurrently-served proxy requests,
// per §5's "bounded in-proxy in-flight request counter".
var inFlight *metrics.InFlight

// InitInFlight installs the process-wide in-flight gauge; called once
// from main with the configured concurrency limit (0 means unbounded).
func InitInFlight(limit int) {
	inFlight = metrics.NewInFlight("toolchain_proxy_requests_in_flight", "Requests currently being served by the proxy.", limit)
}
