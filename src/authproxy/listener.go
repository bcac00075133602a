package authproxy

import (
	"context"
	"fmt"
	"net"
	"strings"

	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Listen builds one *grpc.Server per configured listen address, each with
// its own scheme and allowed-service-name filter baked into its
// interceptor chain, and registers the same *Proxy method set against
// every server — a single Proxy instance fronts every listen address,
// since routing and auth state (the JWK set, the token mapping, the
// backend table) are process-wide, only the scheme and exposed surface
// vary per address (§4.4, §6).
func (p *Proxy) Listen(addrs []ListenAddress, register func(*grpc.Server)) ([]*grpc.Server, []net.Listener, error) {
	servers := make([]*grpc.Server, 0, len(addrs))
	listeners := make([]net.Listener, 0, len(addrs))
	for _, a := range addrs {
		lis, err := net.Listen("tcp", a.Addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, nil, fmt.Errorf("listening on %s: %w", a.Addr, err)
		}
		srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()), grpc.ChainUnaryInterceptor(
			inFlightUnaryInterceptor,
			serviceFilterInterceptor(a.AllowedServiceNames),
			schemeInterceptor(a.Scheme),
		), grpc.ChainStreamInterceptor(
			inFlightStreamInterceptor,
			serviceFilterStreamInterceptor(a.AllowedServiceNames),
			schemeStreamInterceptor(a.Scheme),
		))
		register(srv)
		servers = append(servers, srv)
		listeners = append(listeners, lis)
	}
	return servers, listeners, nil
}

// inFlightUnaryInterceptor and inFlightStreamInterceptor enforce §5's
// bounded in-proxy in-flight request counter ahead of any auth work, so a
// request that never gets a slot never pays for JWT parsing either. Both
// are no-ops until InitInFlight has been called by main.
func inFlightUnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if inFlight == nil {
		return handler(ctx, req)
	}
	release, err := inFlight.Acquire(ctx)
	if err != nil {
		return nil, status.Error(codes.ResourceExhausted, "proxy at capacity")
	}
	defer release()
	return handler(ctx, req)
}

func inFlightStreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if inFlight == nil {
		return handler(srv, ss)
	}
	release, err := inFlight.Acquire(ss.Context())
	if err != nil {
		return status.Error(codes.ResourceExhausted, "proxy at capacity")
	}
	defer release()
	return handler(srv, ss)
}

func schemeInterceptor(s Scheme) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(context.WithValue(ctx, schemeKey{}, s), req)
	}
}

func schemeStreamInterceptor(s Scheme) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: context.WithValue(ss.Context(), schemeKey{}, s)})
	}
}

func serviceFilterInterceptor(allowed []string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !serviceAllowed(allowed, info.FullMethod) {
			return nil, status.Errorf(codes.Unimplemented, "method %s not exposed on this listen address", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

func serviceFilterStreamInterceptor(allowed []string) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !serviceAllowed(allowed, info.FullMethod) {
			return status.Errorf(codes.Unimplemented, "method %s not exposed on this listen address", info.FullMethod)
		}
		return handler(srv, ss)
	}
}

func serviceAllowed(allowed []string, fullMethod string) bool {
	if len(allowed) == 0 {
		return true
	}
	svc := strings.TrimPrefix(fullMethod[:strings.LastIndex(fullMethod, "/")], "/")
	for _, a := range allowed {
		if a == svc {
			return true
		}
	}
	return false
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// schemeFromContext recovers the Scheme a service method should
// authenticate against, set by schemeInterceptor/schemeStreamInterceptor.
func schemeFromContext(ctx context.Context) Scheme {
	s, _ := ctx.Value(schemeKey{}).(Scheme)
	return s
}
