package storageapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	bspb "google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/grpcutil"
	"github.com/thought-machine/rexec/src/storage"
)

// readResource is a parsed "{instance}/blobs/{hex}/{size}" resource name.
type readResource struct {
	instance string
	digest   digest.Digest
}

// writeResource is a parsed "{instance}/uploads/{uuid}/blobs/{hex}/{size}"
// resource name. The uuid is accepted but not otherwise interpreted; this
// cluster does not deduplicate concurrent uploads of the same digest by
// upload id.
type writeResource struct {
	instance string
	uuid     string
	digest   digest.Digest
}

func parseReadResource(name string) (readResource, error) {
	parts := strings.Split(name, "/")
	idx := indexOf(parts, "blobs")
	if idx < 0 || idx+2 >= len(parts) {
		return readResource{}, status.Errorf(codes.InvalidArgument, "malformed ByteStream read resource %q", name)
	}
	size, err := strconv.ParseInt(parts[idx+2], 10, 64)
	if err != nil {
		return readResource{}, status.Errorf(codes.InvalidArgument, "malformed ByteStream read resource %q: %v", name, err)
	}
	d, err := digest.FromHex(parts[idx+1], size)
	if err != nil {
		return readResource{}, status.Errorf(codes.InvalidArgument, "malformed ByteStream read resource %q: %v", name, err)
	}
	return readResource{instance: strings.Join(parts[:idx], "/"), digest: d}, nil
}

func parseWriteResource(name string) (writeResource, error) {
	parts := strings.Split(name, "/")
	uploadsIdx := indexOf(parts, "uploads")
	blobsIdx := indexOf(parts, "blobs")
	if uploadsIdx < 0 || blobsIdx < uploadsIdx+2 || blobsIdx+2 >= len(parts) {
		return writeResource{}, status.Errorf(codes.InvalidArgument, "malformed ByteStream write resource %q", name)
	}
	size, err := strconv.ParseInt(parts[blobsIdx+2], 10, 64)
	if err != nil {
		return writeResource{}, status.Errorf(codes.InvalidArgument, "malformed ByteStream write resource %q: %v", name, err)
	}
	d, err := digest.FromHex(parts[blobsIdx+1], size)
	if err != nil {
		return writeResource{}, status.Errorf(codes.InvalidArgument, "malformed ByteStream write resource %q: %v", name, err)
	}
	return writeResource{
		instance: strings.Join(parts[:uploadsIdx], "/"),
		uuid:     parts[uploadsIdx+1],
		digest:   d,
	}, nil
}

func indexOf(parts []string, s string) int {
	for i, p := range parts {
		if p == s {
			return i
		}
	}
	return -1
}

// Read implements google.bytestream.ByteStream/Read (§4.3).
func (s *Server) Read(req *bspb.ReadRequest, stream bspb.ByteStream_ReadServer) error {
	rr, err := parseReadResource(req.GetResourceName())
	if err != nil {
		return err
	}
	if req.GetReadOffset() < 0 || req.GetReadOffset() > rr.digest.Size || req.GetReadLimit() < 0 {
		return status.Errorf(codes.OutOfRange, "read_offset/read_limit out of range for %s", rr.digest)
	}
	backend := s.backend(rr.instance)
	r, found, err := backend.CAS.Read(stream.Context(), rr.instance, rr.digest, storage.ReadOptions{
		Offset: req.GetReadOffset(),
		Limit:  req.GetReadLimit(),
	})
	if err != nil {
		return grpcutil.StorageStatus(err)
	}
	if !found {
		return status.Errorf(codes.NotFound, "blob not found: %s", rr.digest)
	}
	defer r.Close()
	buf := make([]byte, 64*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if sendErr := stream.Send(&bspb.ReadResponse{Data: buf[:n]}); sendErr != nil {
				return sendErr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return grpcutil.StorageStatus(rerr)
		}
	}
}

// Write implements google.bytestream.ByteStream/Write (§4.3). The resource
// name is parsed from the first message only; later messages carry data and
// the finish_write flag exclusively.
func (s *Server) Write(stream bspb.ByteStream_WriteServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	wr, err := parseWriteResource(first.GetResourceName())
	if err != nil {
		return err
	}
	backend := s.backend(wr.instance)
	w, err := backend.CAS.BeginWrite(stream.Context(), wr.instance, wr.digest)
	if storage.IsAlreadyExists(err) {
		return stream.SendAndClose(&bspb.WriteResponse{CommittedSize: wr.digest.Size})
	}
	if err != nil {
		return grpcutil.StorageStatus(err)
	}
	defer w.Close()

	committed := int64(0)
	msg := first
	for {
		if msg.GetWriteOffset() != committed {
			return status.Errorf(codes.InvalidArgument, "write_offset %d does not match committed_size %d", msg.GetWriteOffset(), committed)
		}
		if len(msg.GetData()) > 0 {
			if err := w.Write(stream.Context(), msg.GetData()); err != nil {
				if storage.IsAlreadyExists(err) {
					return stream.SendAndClose(&bspb.WriteResponse{CommittedSize: wr.digest.Size})
				}
				return grpcutil.StorageStatus(err)
			}
			committed += int64(len(msg.GetData()))
		}
		if msg.GetFinishWrite() {
			break
		}
		msg, err = stream.Recv()
		if err != nil {
			return fmt.Errorf("write stream ended before finish_write: %w", err)
		}
	}
	if committed != wr.digest.Size {
		return status.Errorf(codes.InvalidArgument, "stream ended at %d bytes, declared size was %d", committed, wr.digest.Size)
	}
	if err := storage.CoalesceAlreadyExists(w.Commit(stream.Context())); err != nil {
		return grpcutil.StorageStatus(err)
	}
	return stream.SendAndClose(&bspb.WriteResponse{CommittedSize: committed})
}

// QueryWriteStatus is not implemented: this cluster's writers never resume
// an interrupted upload from an offset, they restart it (§4.3).
func (s *Server) QueryWriteStatus(ctx context.Context, req *bspb.QueryWriteStatusRequest) (*bspb.QueryWriteStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "QueryWriteStatus is not supported")
}
