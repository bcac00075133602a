package authproxy

import (
	"context"
	"io"
	"strings"

	bspb "google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// resourceInstance extracts the instance name prefix from a ByteStream
// resource name ("{instance}/blobs/{hex}/{size}" or
// "{instance}/uploads/{uuid}/blobs/{hex}/{size}"), mirroring the storage
// service's own parseReadResource/parseWriteResource convention
// (src/storageapi/bytestream.go) without needing their digest parsing,
// since the proxy only needs to pick a backend, not validate the blob.
func resourceInstance(name string) (string, error) {
	parts := strings.Split(name, "/")
	idx := indexOf(parts, "blobs")
	if idx < 0 {
		return "", status.Errorf(codes.InvalidArgument, "malformed ByteStream resource %q", name)
	}
	if up := indexOf(parts, "uploads"); up >= 0 && up < idx {
		idx = up
	}
	return strings.Join(parts[:idx], "/"), nil
}

func indexOf(parts []string, s string) int {
	for i, p := range parts {
		if p == s {
			return i
		}
	}
	return -1
}

// Read relays ByteStream/Read to the instance's CAS backend, requiring
// Read. The relay is a plain bidirectional pump: no retry, since a partial
// read stream can't be safely replayed from the client's position without
// renegotiating read_offset, which the proxy leaves to the client itself
// (it may reissue Read with an updated offset).
func (p *Proxy) Read(req *bspb.ReadRequest, stream bspb.ByteStream_ReadServer) error {
	ctx := stream.Context()
	guard := startRPC("ByteStream.Read")
	defer guard.drop(ctx)
	instance, err := resourceInstance(req.GetResourceName())
	if err != nil {
		guard.done(err)
		return err
	}
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), instance, Read); err != nil {
		guard.done(err)
		return err
	}
	client := bspb.NewByteStreamClient(p.Router.Route(instance).CAS.Conn)
	upstream, err := client.Read(ctx, req)
	if err != nil {
		guard.done(err)
		return err
	}
	for {
		chunk, err := upstream.Recv()
		if err == io.EOF {
			guard.done(nil)
			return nil
		}
		if err != nil {
			guard.done(err)
			return err
		}
		if err := stream.Send(chunk); err != nil {
			guard.done(err)
			return err
		}
	}
}

// Write relays ByteStream/Write to the instance's CAS backend, requiring
// ReadWrite. Per §4.4, the proxy reads the first WriteRequest to discover
// the resource name (hence the backend), then relays the rest of the
// stream; once any message has been forwarded the call is no longer
// replayable, so a backend error after that point surfaces directly
// instead of retrying from the top.
func (p *Proxy) Write(stream bspb.ByteStream_WriteServer) error {
	ctx := stream.Context()
	guard := startRPC("ByteStream.Write")
	defer guard.drop(ctx)
	first, err := stream.Recv()
	if err != nil {
		guard.done(err)
		return err
	}
	instance, err := resourceInstance(first.GetResourceName())
	if err != nil {
		guard.done(err)
		return err
	}
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), instance, ReadWrite); err != nil {
		guard.done(err)
		return err
	}
	client := bspb.NewByteStreamClient(p.Router.Route(instance).CAS.Conn)
	upstream, err := client.Write(ctx)
	if err != nil {
		guard.done(err)
		return err
	}
	if err := upstream.Send(first); err != nil {
		guard.done(err)
		return err
	}
	for !first.GetFinishWrite() {
		req, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			guard.done(err)
			return err
		}
		if err := upstream.Send(req); err != nil {
			guard.done(err)
			return err
		}
		first = req
	}
	resp, err := upstream.CloseAndRecv()
	if err != nil {
		guard.done(err)
		return err
	}
	err = stream.SendAndClose(resp)
	guard.done(err)
	return err
}

// QueryWriteStatus is not part of this cluster's external contract,
// matching the storage service's own QueryWriteStatus(Unimplemented):
// clients are expected to retry a Write from the start rather than query
// for a resumable offset.
func (p *Proxy) QueryWriteStatus(ctx context.Context, req *bspb.QueryWriteStatusRequest) (*bspb.QueryWriteStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "QueryWriteStatus is not supported; retry Write from the start")
}
