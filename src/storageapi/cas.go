package storageapi

import (
	"context"
	"errors"
	"io"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/grpcutil"
	"github.com/thought-machine/rexec/src/storage"
)

// FindMissingBlobs implements ContentAddressableStorage/FindMissingBlobs by
// delegating straight to the configured BlobStorage pipeline (§4.2).
func (s *Server) FindMissingBlobs(ctx context.Context, req *pb.FindMissingBlobsRequest) (*pb.FindMissingBlobsResponse, error) {
	digests, err := fromProtoDigests(req.GetBlobDigests())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	backend := s.backend(req.GetInstanceName())
	missing, err := backend.CAS.FindMissing(ctx, req.GetInstanceName(), digests)
	if err != nil {
		return nil, grpcutil.StorageStatus(err)
	}
	resp := &pb.FindMissingBlobsResponse{MissingBlobDigests: make([]*pb.Digest, 0, len(missing))}
	for _, d := range missing {
		resp.MissingBlobDigests = append(resp.MissingBlobDigests, toProtoDigest(d))
	}
	return resp, nil
}

// BatchUpdateBlobs implements ContentAddressableStorage/BatchUpdateBlobs.
// Each request entry is written independently; a failure on one digest does
// not abort the others, matching the per-entry Status field in the wire
// response (§4.2).
func (s *Server) BatchUpdateBlobs(ctx context.Context, req *pb.BatchUpdateBlobsRequest) (*pb.BatchUpdateBlobsResponse, error) {
	backend := s.backend(req.GetInstanceName())
	resp := &pb.BatchUpdateBlobsResponse{Responses: make([]*pb.BatchUpdateBlobsResponse_Response, len(req.GetRequests()))}
	for i, r := range req.GetRequests() {
		d, err := digest.FromProto(r.GetDigest())
		if err != nil {
			resp.Responses[i] = &pb.BatchUpdateBlobsResponse_Response{
				Digest: r.GetDigest(),
				Status: grpcutil.ToRPCStatus(status.Error(codes.InvalidArgument, err.Error())),
			}
			continue
		}
		resp.Responses[i] = &pb.BatchUpdateBlobsResponse_Response{
			Digest: r.GetDigest(),
			Status: grpcutil.ToRPCStatus(writeBlob(ctx, backend.CAS, req.GetInstanceName(), d, r.GetData())),
		}
	}
	return resp, nil
}

// BatchReadBlobs implements ContentAddressableStorage/BatchReadBlobs.
func (s *Server) BatchReadBlobs(ctx context.Context, req *pb.BatchReadBlobsRequest) (*pb.BatchReadBlobsResponse, error) {
	backend := s.backend(req.GetInstanceName())
	resp := &pb.BatchReadBlobsResponse{Responses: make([]*pb.BatchReadBlobsResponse_Response, len(req.GetDigests()))}
	for i, pd := range req.GetDigests() {
		d, err := digest.FromProto(pd)
		if err != nil {
			resp.Responses[i] = &pb.BatchReadBlobsResponse_Response{Digest: pd, Status: grpcutil.ToRPCStatus(status.Error(codes.InvalidArgument, err.Error()))}
			continue
		}
		data, rerr := readBlob(ctx, backend.CAS, req.GetInstanceName(), d)
		resp.Responses[i] = &pb.BatchReadBlobsResponse_Response{Digest: pd, Data: data, Status: grpcutil.ToRPCStatus(rerr)}
	}
	return resp, nil
}

// GetTree is not implemented: every caller in this cluster resolves trees
// via the directories referenced in an ActionResult, fetched individually
// through BatchReadBlobs rather than paginated through GetTree (Non-goal).
func (s *Server) GetTree(req *pb.GetTreeRequest, stream pb.ContentAddressableStorage_GetTreeServer) error {
	return status.Error(codes.Unimplemented, "GetTree is not supported; resolve directories via BatchReadBlobs")
}

func writeBlob(ctx context.Context, store storage.BlobStorage, instance string, d digest.Digest, data []byte) error {
	w, err := store.BeginWrite(ctx, instance, d)
	if storage.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return grpcutil.StorageStatus(err)
	}
	defer w.Close()
	if err := w.Write(ctx, data); err != nil {
		return grpcutil.StorageStatus(err)
	}
	if err := storage.CoalesceAlreadyExists(w.Commit(ctx)); err != nil {
		return grpcutil.StorageStatus(err)
	}
	return nil
}

func readBlob(ctx context.Context, store storage.BlobStorage, instance string, d digest.Digest) ([]byte, error) {
	r, found, err := store.Read(ctx, instance, d, storage.ReadOptions{})
	if err != nil {
		return nil, grpcutil.StorageStatus(err)
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "blob not found: %s", d)
	}
	defer r.Close()
	buf := make([]byte, 0, d.Size)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return nil, grpcutil.StorageStatus(rerr)
		}
	}
	return buf, nil
}

func fromProtoDigests(pds []*pb.Digest) ([]digest.Digest, error) {
	out := make([]digest.Digest, len(pds))
	for i, pd := range pds {
		d, err := digest.FromProto(pd)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func toProtoDigest(d digest.Digest) *pb.Digest {
	return &pb.Digest{Hash: d.Hex(), SizeBytes: d.Size}
}
