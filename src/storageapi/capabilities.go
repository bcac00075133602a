package storageapi

import (
	"context"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/bazelbuild/remote-apis/build/bazel/semver"
)

var apiVersion = semver.SemVer{Major: 2, Minor: 0}

// GetCapabilities implements Capabilities/GetCapabilities. This cluster
// only ever speaks SHA256, supports action cache updates, and caps batch
// RPCs at maxBatchTotalSizeBytes (§6).
func (s *Server) GetCapabilities(ctx context.Context, req *pb.GetCapabilitiesRequest) (*pb.ServerCapabilities, error) {
	return &pb.ServerCapabilities{
		CacheCapabilities: &pb.CacheCapabilities{
			DigestFunctions: []pb.DigestFunction_Value{pb.DigestFunction_SHA256},
			ActionCacheUpdateCapabilities: &pb.ActionCacheUpdateCapabilities{
				UpdateEnabled: true,
			},
			MaxBatchTotalSizeBytes: maxBatchTotalSizeBytes,
		},
		ExecutionCapabilities: &pb.ExecutionCapabilities{
			DigestFunction: pb.DigestFunction_SHA256,
			ExecEnabled:    true,
		},
		LowApiVersion:  &apiVersion,
		HighApiVersion: &apiVersion,
	}, nil
}
