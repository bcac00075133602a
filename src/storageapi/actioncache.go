package storageapi

import (
	"context"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/grpcutil"
)

// GetActionResult implements ActionCache/GetActionResult (§4.2.1).
func (s *Server) GetActionResult(ctx context.Context, req *pb.GetActionResultRequest) (*pb.ActionResult, error) {
	d, err := digest.FromProto(req.GetActionDigest())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	backend := s.backend(req.GetInstanceName())
	result, found, err := backend.ActionCache.GetActionResult(ctx, req.GetInstanceName(), d, req.GetInlineStdout(), req.GetInlineStderr())
	if err != nil {
		return nil, grpcutil.StorageStatus(err)
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "no cached result for action %s", d)
	}
	return result, nil
}

// UpdateActionResult implements ActionCache/UpdateActionResult.
func (s *Server) UpdateActionResult(ctx context.Context, req *pb.UpdateActionResultRequest) (*pb.ActionResult, error) {
	d, err := digest.FromProto(req.GetActionDigest())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	backend := s.backend(req.GetInstanceName())
	result, err := backend.ActionCache.UpdateActionResult(ctx, req.GetInstanceName(), d, req.GetActionResult())
	if err != nil {
		return nil, grpcutil.StorageStatus(err)
	}
	return result, nil
}
