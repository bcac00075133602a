package execution

import (
	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/scheduler"
)

// Execute implements build.bazel.remote.execution.v2.Execution/Execute: it
// streams a longrunning.Operation for actionDigest, publishing every
// status transition the scheduler reports until the action completes.
func (s *Server) Execute(req *pb.ExecuteRequest, stream pb.Execution_ExecuteServer) error {
	actionDigest, err := digest.FromProto(req.GetActionDigest())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "bad action digest: %v", err)
	}
	inst := s.instance(req.GetInstanceName())
	opName, watch := inst.Execute(actionDigest, req)
	return streamOperation(stream, inst, req.GetInstanceName(), opName, watch)
}

// WaitExecution implements Execution/WaitExecution: it rejoins the status
// stream for an already-running operation.
func (s *Server) WaitExecution(req *pb.WaitExecutionRequest, stream pb.Execution_WaitExecutionServer) error {
	instanceName, opName, err := splitOperationName(req.GetName())
	if err != nil {
		return err
	}
	inst := s.instance(instanceName)
	watch, ok := inst.Wait(opName)
	if !ok {
		return status.Errorf(codes.NotFound, "no such operation: %s", req.GetName())
	}
	return streamOperation(stream, inst, instanceName, opName, watch)
}

type operationStream interface {
	Send(*longrunningpb.Operation) error
}

// streamOperation relays watch onto stream until the action completes or
// the stream ends early (client disconnect, a failed Send, or context
// cancellation surfaced by watch/stream). In every early-exit case this
// opName's watcher is still registered on inst, so it cancels it before
// returning — otherwise a client that simply hangs up, rather than calling
// CancelOperation, would leave a watcher in Action.watchers forever and the
// action would never be observed as cancelled (§4.1, §8 property 5).
func streamOperation(stream operationStream, inst *scheduler.Instance, instanceName, opName string, watch <-chan scheduler.ActionStatus) error {
	fullName := instanceName + "/" + opName
	done := false
	defer func() {
		if !done {
			inst.Cancel(opName)
		}
	}()
	for st := range watch {
		op, err := toOperation(fullName, st)
		if err != nil {
			return err
		}
		if sendErr := stream.Send(op); sendErr != nil {
			return sendErr
		}
		if st.Done {
			done = true
			return nil
		}
	}
	return nil
}

func toOperation(name string, s scheduler.ActionStatus) (*longrunningpb.Operation, error) {
	op := &longrunningpb.Operation{Name: name, Done: s.Done}

	metadata := &pb.ExecuteOperationMetadata{Stage: toExecutionStage(s)}
	metaAny, err := anypb.New(metadata)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal metadata: %v", err)
	}
	op.Metadata = metaAny

	if !s.Done {
		return op, nil
	}
	if s.Code != codes.OK && s.Code != 0 {
		op.Result = &longrunningpb.Operation_Error{Error: &rpcstatus.Status{Code: int32(s.Code), Message: s.Message}}
		return op, nil
	}
	resp := &pb.ExecuteResponse{Result: s.Result, Status: &rpcstatus.Status{Code: int32(codes.OK)}}
	respAny, err := anypb.New(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal response: %v", err)
	}
	op.Result = &longrunningpb.Operation_Response{Response: respAny}
	return op, nil
}

func toExecutionStage(s scheduler.ActionStatus) pb.ExecutionStage_Value {
	if s.Done {
		return pb.ExecutionStage_COMPLETED
	}
	if s.Stage == scheduler.StageExecuting {
		return pb.ExecutionStage_EXECUTING
	}
	return pb.ExecutionStage_QUEUED
}

func splitOperationName(name string) (instance, op string, err error) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[:i], name[i+1:], nil
		}
	}
	return "", "", status.Errorf(codes.InvalidArgument, "malformed operation name %q", name)
}
