package storageapi

import (
	"context"
	"fmt"
	"testing"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/storage"
	"github.com/thought-machine/rexec/src/storage/actioncache"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	mem := storage.NewMemory()
	backend := &InstanceBackend{
		CAS: mem,
		ActionCache: &actioncache.Cache{
			Store:         mem,
			CAS:           mem,
			BatchAPILimit: maxBatchTotalSizeBytes,
		},
	}
	return NewServer(backend)
}

func TestGetCapabilities(t *testing.T) {
	s := testServer(t)
	caps, err := s.GetCapabilities(context.Background(), &pb.GetCapabilitiesRequest{})
	require.NoError(t, err)
	assert.Equal(t, []pb.DigestFunction_Value{pb.DigestFunction_SHA256}, caps.CacheCapabilities.DigestFunctions)
	assert.True(t, caps.CacheCapabilities.ActionCacheUpdateCapabilities.UpdateEnabled)
	assert.EqualValues(t, maxBatchTotalSizeBytes, caps.CacheCapabilities.MaxBatchTotalSizeBytes)
	assert.True(t, caps.ExecutionCapabilities.ExecEnabled)
}

func TestBatchUpdateAndFindMissingAndRead(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()
	blob := []byte("foobar")
	d := digest.Of(blob)

	missing, err := s.FindMissingBlobs(ctx, &pb.FindMissingBlobsRequest{
		InstanceName: "main",
		BlobDigests:  []*pb.Digest{d.Proto()},
	})
	require.NoError(t, err)
	assert.Len(t, missing.MissingBlobDigests, 1)

	updateResp, err := s.BatchUpdateBlobs(ctx, &pb.BatchUpdateBlobsRequest{
		InstanceName: "main",
		Requests: []*pb.BatchUpdateBlobsRequest_Request{
			{Digest: d.Proto(), Data: blob},
		},
	})
	require.NoError(t, err)
	require.Len(t, updateResp.Responses, 1)
	assert.EqualValues(t, codes.OK, updateResp.Responses[0].Status.Code)

	missing, err = s.FindMissingBlobs(ctx, &pb.FindMissingBlobsRequest{
		InstanceName: "main",
		BlobDigests:  []*pb.Digest{d.Proto()},
	})
	require.NoError(t, err)
	assert.Empty(t, missing.MissingBlobDigests)

	readResp, err := s.BatchReadBlobs(ctx, &pb.BatchReadBlobsRequest{
		InstanceName: "main",
		Digests:      []*pb.Digest{d.Proto()},
	})
	require.NoError(t, err)
	require.Len(t, readResp.Responses, 1)
	assert.Equal(t, blob, readResp.Responses[0].Data)
}

func TestGetTreeUnimplemented(t *testing.T) {
	s := testServer(t)
	err := s.GetTree(&pb.GetTreeRequest{}, nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestParseReadResource(t *testing.T) {
	d := digest.Of([]byte("foobar"))
	name := fmt.Sprintf("main/blobs/%s/%d", d.Hex(), d.Size)
	rr, err := parseReadResource(name)
	require.NoError(t, err)
	assert.Equal(t, "main", rr.instance)
	assert.Equal(t, d, rr.digest)
}

func TestParseReadResourceNoInstance(t *testing.T) {
	d := digest.Of([]byte("foobar"))
	name := fmt.Sprintf("blobs/%s/%d", d.Hex(), d.Size)
	rr, err := parseReadResource(name)
	require.NoError(t, err)
	assert.Equal(t, "", rr.instance)
	assert.Equal(t, d, rr.digest)
}

func TestParseWriteResource(t *testing.T) {
	d := digest.Of([]byte("foobar"))
	name := fmt.Sprintf("main/uploads/12345/blobs/%s/%d", d.Hex(), d.Size)
	wr, err := parseWriteResource(name)
	require.NoError(t, err)
	assert.Equal(t, "main", wr.instance)
	assert.Equal(t, "12345", wr.uuid)
	assert.Equal(t, d, wr.digest)
}

func TestParseWriteResourceMalformed(t *testing.T) {
	_, err := parseWriteResource("main/blobs/abc/6")
	assert.Error(t, err)
}

func TestActionCacheMissReturnsNotFound(t *testing.T) {
	s := testServer(t)
	d := digest.Of([]byte("action"))
	_, err := s.GetActionResult(context.Background(), &pb.GetActionResultRequest{InstanceName: "main", ActionDigest: d.Proto()})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestUpdateThenGetActionResult(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()
	d := digest.Of([]byte("action"))
	result := &pb.ActionResult{ExitCode: 0}

	_, err := s.UpdateActionResult(ctx, &pb.UpdateActionResultRequest{
		InstanceName: "main",
		ActionDigest: d.Proto(),
		ActionResult: result,
	})
	require.NoError(t, err)

	got, err := s.GetActionResult(ctx, &pb.GetActionResultRequest{InstanceName: "main", ActionDigest: d.Proto()})
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.ExitCode)
}
