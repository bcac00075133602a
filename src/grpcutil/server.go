package grpcutil

import (
	"net"

	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/thought-machine/rexec/src/config"
)

// NewServer builds a *grpc.Server with the ambient interceptor chain every
// service in this cluster shares: OpenTelemetry tracing (via otelgrpc,
// wired regardless of the spec's functional Non-goals, per §9) and the
// message-size limits from cfg. The storage and execution servers use
// this directly; the proxy layers its own auth/routing interceptors on
// top in src/authproxy/listener.go.
func NewServer(cfg config.GrpcConfig, extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
	if cfg.MaxRecvMsgSizeBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSizeBytes))
	}
	if cfg.MaxSendMsgSizeBytes > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(cfg.MaxSendMsgSizeBytes))
	}
	opts = append(opts, extra...)
	return grpc.NewServer(opts...)
}

// Listen is a small convenience wrapper over net.Listen on TCP; it does not
// log, and each main.go reports its own "listening on %s" line.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
