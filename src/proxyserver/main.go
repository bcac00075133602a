// Command proxyserver runs the authenticating proxy: it validates bearer
// tokens (JWT or opaque, per listen address), enforces permission tiers,
// and forwards CAS/ActionCache/ByteStream/Capabilities/Execution/Bots/
// Operations calls to the configured storage and execution backends
// (§4.4, §6).
package main

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	bspb "google.golang.org/genproto/googleapis/bytestream"
	remoteworkers "google.golang.org/genproto/googleapis/devtools/remoteworkers/v1test2"
	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	"google.golang.org/grpc"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/rexec/src/authproxy"
	"github.com/thought-machine/rexec/src/cli"
	"github.com/thought-machine/rexec/src/config"
	"github.com/thought-machine/rexec/src/infra"
)

var log = logging.MustGetLogger("proxyserver")

var opts struct {
	Usage     string        `usage:"proxyserver runs the cluster's authenticating proxy."`
	Verbosity cli.Verbosity `short:"v" long:"verbosity" default:"notice" description:"Verbosity of output"`
	LogFile   string        `long:"log_file" description:"File to log to (in addition to stderr)"`
	Config    string        `short:"c" long:"config" default:"proxyserver.yaml" description:"Path to the YAML config file"`
	InFlight  int           `long:"max_in_flight" default:"0" description:"Maximum concurrently-served requests (0 is unbounded)"`
}

func main() {
	cli.ParseFlagsOrDie("proxyserver", "1.0.0", &opts)
	cli.InitLogging(opts.Verbosity)
	if opts.LogFile != "" {
		cli.InitFileLogging(opts.LogFile, opts.Verbosity)
	}

	cfg := config.DefaultProxyConfig()
	if err := config.ReadFile(opts.Config, cfg); err != nil {
		log.Fatalf("%s", err)
	}

	authproxy.InitInFlight(opts.InFlight)

	backends, err := dialBackends(cfg.Backends)
	if err != nil {
		log.Fatalf("dialling backends: %s", err)
	}

	router, err := authproxy.NewRouter(authproxy.RouterConfig{
		Backends:  backends,
		Instances: instanceNames(cfg.PerInstanceBackends),
		Default:   instanceName(cfg.DefaultBackends),
	})
	if err != nil {
		log.Fatalf("building router: %s", err)
	}

	var jwtAuth *authproxy.JWTAuthenticator
	if cfg.JWKSetPath != "" {
		keys, err := authproxy.LoadJWKSet(cfg.JWKSetPath)
		if err != nil {
			log.Fatalf("loading jwk set: %s", err)
		}
		jwtAuth = authproxy.NewJWTAuthenticator(keys)
	}

	var tokenAuth *authproxy.TokenAuthenticator
	if cfg.AuthTokenMapping != nil {
		tokenAuth = authproxy.NewTokenAuthenticator()
		s3Client, err := newS3Client(cfg.AuthTokenMapping.S3Region)
		if err != nil {
			log.Fatalf("building s3 client: %s", err)
		}
		refreshInterval := time.Duration(cfg.AuthTokenMapping.RefreshFrequencyS) * time.Second
		refresher := authproxy.NewTokenRefresher(s3Client, authproxy.TokenRefresherConfig{
			Bucket:          cfg.AuthTokenMapping.S3Bucket,
			Region:          cfg.AuthTokenMapping.S3Region,
			Path:            cfg.AuthTokenMapping.S3Path,
			RefreshInterval: refreshInterval,
		}, tokenAuth)
		ctx, cancel := context.WithCancel(context.Background())
		cli.AtExit(cancel)
		go refresher.Run(ctx)
	}

	timeouts := authproxy.BackendTimeouts{
		GetActionResult: time.Duration(cfg.BackendTimeouts.GetActionResultMs) * time.Millisecond,
	}
	proxy := authproxy.NewProxy(router, jwtAuth, tokenAuth, timeouts)

	shutdownTracing, err := infra.StartTracing("proxyserver", cfg.Infra)
	if err != nil {
		log.Fatalf("starting tracing: %s", err)
	}
	cli.AtExit(func() { shutdownTracing(context.Background()) })
	infraHandle, err := infra.Start("proxyserver", cfg.Infra)
	if err != nil {
		log.Fatalf("starting infra: %s", err)
	}
	cli.AtExit(infraHandle.Close)

	addrs := make([]authproxy.ListenAddress, 0, len(cfg.ListenAddresses))
	for _, a := range cfg.ListenAddresses {
		scheme, err := parseScheme(a.AuthScheme)
		if err != nil {
			log.Fatalf("listen_addresses[%s]: %s", a.Addr, err)
		}
		addrs = append(addrs, authproxy.ListenAddress{
			Addr:                a.Addr,
			Scheme:              scheme,
			AllowedServiceNames: a.AllowedServiceNames,
		})
	}

	servers, listeners, err := proxy.Listen(addrs, func(srv *grpc.Server) {
		pb.RegisterContentAddressableStorageServer(srv, proxy)
		pb.RegisterActionCacheServer(srv, proxy)
		pb.RegisterCapabilitiesServer(srv, proxy)
		pb.RegisterExecutionServer(srv, proxy)
		bspb.RegisterByteStreamServer(srv, proxy)
		remoteworkers.RegisterBotsServer(srv, proxy)
		longrunningpb.RegisterOperationsServer(srv, proxy)
	})
	if err != nil {
		log.Fatalf("listening: %s", err)
	}
	for _, srv := range servers {
		srv := srv
		cli.AtExit(srv.GracefulStop)
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		srv, lis, addr := srv, listeners[i], addrs[i].Addr
		log.Noticef("proxyserver listening on %s (scheme %d)", addr, addrs[i].Scheme)
		go func() {
			errCh <- srv.Serve(lis)
		}()
	}
	if err := <-errCh; err != nil {
		log.Fatalf("grpc serve: %s", err)
	}
}

func parseScheme(s string) (authproxy.Scheme, error) {
	switch s {
	case "jwt":
		return authproxy.SchemeJwt, nil
	case "auth_token":
		return authproxy.SchemeAuthToken, nil
	case "dev_only_no_auth":
		return authproxy.SchemeDevOnlyNoAuth, nil
	default:
		return 0, fmt.Errorf("unknown auth_scheme %q", s)
	}
}

// dialBackends dials one connection per configured backend up front.
// Dial options mirror the teacher's dialParams: an arbitrarily large max
// message size so it's never the limiting factor, plus an otelgrpc stats
// handler so a trace started at the proxy continues into the backend.
func dialBackends(cfg map[string]config.ProxyBackendConfig) (map[string]*authproxy.Backend, error) {
	backends := make(map[string]*authproxy.Backend, len(cfg))
	for name, b := range cfg {
		ctx, cancel := context.WithTimeout(context.Background(), authproxy.DefaultDialTimeout)
		conn, err := grpc.DialContext(ctx, b.Address,
			grpc.WithBlock(),
			grpc.WithInsecure(),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(419430400)))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("dialling backend %q at %s: %w", name, b.Address, err)
		}
		backends[name] = &authproxy.Backend{Name: name, Conn: conn}
	}
	return backends, nil
}

func instanceNames(cfg map[string]config.InstanceBackendsConfig) map[string]authproxy.InstanceNames {
	out := make(map[string]authproxy.InstanceNames, len(cfg))
	for name, b := range cfg {
		out[name] = instanceName(b)
	}
	return out
}

func instanceName(b config.InstanceBackendsConfig) authproxy.InstanceNames {
	return authproxy.InstanceNames{CAS: b.CAS, ActionCache: b.ActionCache, Execution: b.Execution}
}

func newS3Client(region string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}
