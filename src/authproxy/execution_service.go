package authproxy

import (
	"io"
	"strings"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// splitOperationName parses an operation name of the form
// "{instance}/{uuid}" (§4.4's "Operation name routing"), mirroring the
// execution service's own helper of the same name.
func splitOperationName(name string) (instance, op string, err error) {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return "", "", status.Errorf(codes.InvalidArgument, "malformed operation name %q", name)
	}
	return name[:idx], name[idx+1:], nil
}

// Execute relays Execution/Execute to the instance's execution backend,
// requiring Execute. The relay just pumps the backend's Operation stream
// back to the client; there is no retry here since Execute itself is not
// idempotent (retrying would enqueue the action twice) — only the
// short-lived per-operation RPCs the scheduler exposes elsewhere get the
// §4.4 retry treatment.
func (p *Proxy) Execute(req *pb.ExecuteRequest, stream pb.Execution_ExecuteServer) error {
	ctx := stream.Context()
	guard := startRPC("Execute")
	defer guard.drop(ctx)
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), req.GetInstanceName(), Execute); err != nil {
		guard.done(err)
		return err
	}
	route := p.Router.Route(req.GetInstanceName())
	if route.Execution == nil {
		err := status.Errorf(codes.NotFound, "instance %q has no execution backend", req.GetInstanceName())
		guard.done(err)
		return err
	}
	client := pb.NewExecutionClient(route.Execution.Conn)
	upstream, err := client.Execute(ctx, req)
	if err != nil {
		guard.done(err)
		return err
	}
	err = relayOperations(upstream, stream)
	guard.done(err)
	return err
}

// WaitExecution relays Execution/WaitExecution, routing by the instance
// name encoded in the operation name rather than a request field.
func (p *Proxy) WaitExecution(req *pb.WaitExecutionRequest, stream pb.Execution_WaitExecutionServer) error {
	ctx := stream.Context()
	guard := startRPC("WaitExecution")
	defer guard.drop(ctx)
	instanceName, _, err := splitOperationName(req.GetName())
	if err != nil {
		guard.done(err)
		return err
	}
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), instanceName, Execute); err != nil {
		guard.done(err)
		return err
	}
	route := p.Router.Route(instanceName)
	if route.Execution == nil {
		err := status.Errorf(codes.NotFound, "instance %q has no execution backend", instanceName)
		guard.done(err)
		return err
	}
	client := pb.NewExecutionClient(route.Execution.Conn)
	upstream, err := client.WaitExecution(ctx, req)
	if err != nil {
		guard.done(err)
		return err
	}
	err = relayOperations(upstream, stream)
	guard.done(err)
	return err
}

// operationSource and operationSink are the minimal Recv/Send shapes
// shared by every generated streaming client/server for
// longrunning.Operation, letting Execute and WaitExecution share one pump
// instead of duplicating the loop per RPC.
type operationSource interface {
	Recv() (*longrunningpb.Operation, error)
}

type operationSink interface {
	Send(*longrunningpb.Operation) error
}

func relayOperations(upstream operationSource, downstream operationSink) error {
	for {
		op, err := upstream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := downstream.Send(op); err != nil {
			return err
		}
	}
}
