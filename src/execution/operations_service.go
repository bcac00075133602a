package execution

import (
	"context"

	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// GetOperation implements google.longrunning.Operations/GetOperation by
// taking a single snapshot of the operation's current status rather than
// subscribing to the full stream.
func (s *Server) GetOperation(ctx context.Context, req *longrunningpb.GetOperationRequest) (*longrunningpb.Operation, error) {
	instanceName, opName, err := splitOperationName(req.GetName())
	if err != nil {
		return nil, err
	}
	watch, ok := s.instance(instanceName).Wait(opName)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no such operation: %s", req.GetName())
	}
	st := <-watch
	return toOperation(req.GetName(), st)
}

// ListOperations is not part of this system's external contract; no client
// in this cluster enumerates operations by instance, only by name.
func (s *Server) ListOperations(ctx context.Context, req *longrunningpb.ListOperationsRequest) (*longrunningpb.ListOperationsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "ListOperations is not supported")
}

// CancelOperation implements google.longrunning.Operations/CancelOperation:
// it removes this operation's watcher from its Action, per §4.1's
// cancellation semantics (the Action itself only dies once every watcher
// is gone).
func (s *Server) CancelOperation(ctx context.Context, req *longrunningpb.CancelOperationRequest) (*emptypb.Empty, error) {
	instanceName, opName, err := splitOperationName(req.GetName())
	if err != nil {
		return nil, err
	}
	s.instance(instanceName).Cancel(opName)
	return &emptypb.Empty{}, nil
}

// DeleteOperation has the same effect as CancelOperation here: there is no
// separate persisted-operation store to delete from.
func (s *Server) DeleteOperation(ctx context.Context, req *longrunningpb.DeleteOperationRequest) (*emptypb.Empty, error) {
	instanceName, opName, err := splitOperationName(req.GetName())
	if err != nil {
		return nil, err
	}
	s.instance(instanceName).Cancel(opName)
	return &emptypb.Empty{}, nil
}
