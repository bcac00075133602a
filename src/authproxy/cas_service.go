package authproxy

import (
	"context"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FindMissingBlobs forwards ContentAddressableStorage/FindMissingBlobs to
// the instance's CAS backend, requiring Read (§4.4's permission table).
func (p *Proxy) FindMissingBlobs(ctx context.Context, req *pb.FindMissingBlobsRequest) (*pb.FindMissingBlobsResponse, error) {
	guard := startRPC("FindMissingBlobs")
	defer guard.drop(ctx)
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), req.GetInstanceName(), Read); err != nil {
		guard.done(err)
		return nil, err
	}
	client := pb.NewContentAddressableStorageClient(p.Router.Route(req.GetInstanceName()).CAS.Conn)
	resp, err := WithRetry(ctx, func(ctx context.Context) (*pb.FindMissingBlobsResponse, error) {
		return client.FindMissingBlobs(ctx, req)
	})
	guard.done(err)
	return resp, err
}

// BatchUpdateBlobs forwards CAS/BatchUpdateBlobs, requiring ReadWrite.
func (p *Proxy) BatchUpdateBlobs(ctx context.Context, req *pb.BatchUpdateBlobsRequest) (*pb.BatchUpdateBlobsResponse, error) {
	guard := startRPC("BatchUpdateBlobs")
	defer guard.drop(ctx)
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), req.GetInstanceName(), ReadWrite); err != nil {
		guard.done(err)
		return nil, err
	}
	client := pb.NewContentAddressableStorageClient(p.Router.Route(req.GetInstanceName()).CAS.Conn)
	resp, err := WithRetry(ctx, func(ctx context.Context) (*pb.BatchUpdateBlobsResponse, error) {
		return client.BatchUpdateBlobs(ctx, req)
	})
	guard.done(err)
	return resp, err
}

// BatchReadBlobs forwards CAS/BatchReadBlobs, requiring Read.
func (p *Proxy) BatchReadBlobs(ctx context.Context, req *pb.BatchReadBlobsRequest) (*pb.BatchReadBlobsResponse, error) {
	guard := startRPC("BatchReadBlobs")
	defer guard.drop(ctx)
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), req.GetInstanceName(), Read); err != nil {
		guard.done(err)
		return nil, err
	}
	client := pb.NewContentAddressableStorageClient(p.Router.Route(req.GetInstanceName()).CAS.Conn)
	resp, err := WithRetry(ctx, func(ctx context.Context) (*pb.BatchReadBlobsResponse, error) {
		return client.BatchReadBlobs(ctx, req)
	})
	guard.done(err)
	return resp, err
}

// GetTree is not part of this cluster's external contract, matching the
// storage service's own GetTree(Unimplemented) — output directories are
// expanded server-side by the action cache's completeness check, not by
// clients walking Tree pages through the proxy.
func (p *Proxy) GetTree(req *pb.GetTreeRequest, stream pb.ContentAddressableStorage_GetTreeServer) error {
	return status.Error(codes.Unimplemented, "GetTree is not supported; resolve directories via BatchReadBlobs")
}
