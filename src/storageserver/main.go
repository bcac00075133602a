// Command storageserver runs the Storage service: ContentAddressableStorage,
// ByteStream, ActionCache, and Capabilities over a configured BlobStorage
// driver tree (§4.2, §4.3, §6).
package main

import (
	"context"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	bspb "google.golang.org/genproto/googleapis/bytestream"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/rexec/src/cli"
	"github.com/thought-machine/rexec/src/config"
	"github.com/thought-machine/rexec/src/grpcutil"
	"github.com/thought-machine/rexec/src/infra"
	"github.com/thought-machine/rexec/src/storage/actioncache"
	"github.com/thought-machine/rexec/src/storageapi"
)

var log = logging.MustGetLogger("storageserver")

var opts struct {
	Usage     string        `usage:"storageserver runs the cluster's content-addressable storage and action cache."`
	Verbosity cli.Verbosity `short:"v" long:"verbosity" default:"notice" description:"Verbosity of output"`
	LogFile   string        `long:"log_file" description:"File to log to (in addition to stderr)"`
	Config    string        `short:"c" long:"config" default:"storageserver.yaml" description:"Path to the YAML config file"`
}

func main() {
	cli.ParseFlagsOrDie("storageserver", "1.0.0", &opts)
	cli.InitLogging(opts.Verbosity)
	if opts.LogFile != "" {
		cli.InitFileLogging(opts.LogFile, opts.Verbosity)
	}

	cfg := config.DefaultStorageConfig()
	if err := config.ReadFile(opts.Config, cfg); err != nil {
		log.Fatalf("%s", err)
	}

	pools := config.BuildRedisPools(cfg.RedisBackends)
	for name, pool := range pools {
		if err := pool.Client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("initial Redis verification failed for backend %q: %s", name, err)
		}
	}

	casDriver, err := config.BuildBlobStorage(&cfg.CAS, pools)
	if err != nil {
		log.Fatalf("building cas driver tree: %s", err)
	}
	acDriver, err := config.BuildBlobStorage(&cfg.ActionCache, pools)
	if err != nil {
		log.Fatalf("building action_cache driver tree: %s", err)
	}

	ac := &actioncache.Cache{
		Store:                        acDriver,
		CAS:                          casDriver,
		CheckCompleteness:            cfg.CheckActionCacheCompleteness,
		CompletenessCheckProbability: int(cfg.CompletenessCheckProbability),
	}

	srv := storageapi.NewServer(&storageapi.InstanceBackend{CAS: casDriver, ActionCache: ac})

	shutdownTracing, err := infra.StartTracing("storageserver", cfg.Infra)
	if err != nil {
		log.Fatalf("starting tracing: %s", err)
	}
	cli.AtExit(func() { shutdownTracing(context.Background()) })
	infraHandle, err := infra.Start("storageserver", cfg.Infra)
	if err != nil {
		log.Fatalf("starting infra: %s", err)
	}
	cli.AtExit(infraHandle.Close)

	lis, err := grpcutil.Listen(cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listening on %s: %s", cfg.ListenAddress, err)
	}
	grpcServer := grpcutil.NewServer(cfg.Grpc)
	pb.RegisterContentAddressableStorageServer(grpcServer, srv)
	pb.RegisterActionCacheServer(grpcServer, srv)
	pb.RegisterCapabilitiesServer(grpcServer, srv)
	bspb.RegisterByteStreamServer(grpcServer, srv)
	cli.AtExit(grpcServer.GracefulStop)

	log.Noticef("storageserver listening on %s", cfg.ListenAddress)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("grpc serve: %s", err)
	}
}
