// Command executionserver runs the Execution service: Bots long-polling,
// Execute/WaitExecution streaming, and Operation cancellation, each
// dispatched to a per-REAPI-instance scheduler (§4.1, §6).
package main

import (
	"context"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	remoteworkers "google.golang.org/genproto/googleapis/devtools/remoteworkers/v1test2"
	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/rexec/src/cli"
	"github.com/thought-machine/rexec/src/config"
	"github.com/thought-machine/rexec/src/execution"
	"github.com/thought-machine/rexec/src/grpcutil"
	"github.com/thought-machine/rexec/src/infra"
)

var log = logging.MustGetLogger("executionserver")

var opts struct {
	Usage     string        `usage:"executionserver runs the cluster's scheduler and Bots/Execution/Operations RPCs."`
	Verbosity cli.Verbosity `short:"v" long:"verbosity" default:"notice" description:"Verbosity of output"`
	LogFile   string        `long:"log_file" description:"File to log to (in addition to stderr)"`
	Config    string        `short:"c" long:"config" default:"executionserver.yaml" description:"Path to the YAML config file"`
}

func main() {
	cli.ParseFlagsOrDie("executionserver", "1.0.0", &opts)
	cli.InitLogging(opts.Verbosity)
	if opts.LogFile != "" {
		cli.InitFileLogging(opts.LogFile, opts.Verbosity)
	}

	cfg := config.DefaultExecutionConfig()
	if err := config.ReadFile(opts.Config, cfg); err != nil {
		log.Fatalf("%s", err)
	}

	srv := execution.NewServer(cfg.ExpirationTimeout)

	shutdownTracing, err := infra.StartTracing("executionserver", cfg.Infra)
	if err != nil {
		log.Fatalf("starting tracing: %s", err)
	}
	cli.AtExit(func() { shutdownTracing(context.Background()) })
	infraHandle, err := infra.Start("executionserver", cfg.Infra)
	if err != nil {
		log.Fatalf("starting infra: %s", err)
	}
	cli.AtExit(infraHandle.Close)

	lis, err := grpcutil.Listen(cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listening on %s: %s", cfg.ListenAddress, err)
	}
	grpcServer := grpcutil.NewServer(cfg.Grpc)
	pb.RegisterExecutionServer(grpcServer, srv)
	remoteworkers.RegisterBotsServer(grpcServer, srv)
	longrunningpb.RegisterOperationsServer(grpcServer, srv)
	cli.AtExit(grpcServer.GracefulStop)

	log.Noticef("executionserver listening on %s", cfg.ListenAddress)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("grpc serve: %s", err)
	}
}
