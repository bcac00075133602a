package execution

import (
	"errors"
	"testing"
	"time"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	"google.golang.org/grpc/codes"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/scheduler"
)

func testInstance(t *testing.T) *scheduler.Instance {
	t.Helper()
	i := scheduler.NewInstance("test", 50*time.Millisecond)
	t.Cleanup(i.Close)
	return i
}

type fakeOperationStream struct {
	sendErr error
}

func (f *fakeOperationStream) Send(op *longrunningpb.Operation) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	return nil
}

func TestStreamOperationCancelsWatcherOnClientDisconnect(t *testing.T) {
	inst := testInstance(t)
	d := digest.Of([]byte("action-disconnect"))
	opName, watch := inst.Execute(d, &pb.ExecuteRequest{ActionDigest: d.Proto()})

	stream := &fakeOperationStream{sendErr: errors.New("client hung up")}
	err := streamOperation(stream, inst, "test", opName, watch)
	assert.Error(t, err)

	_, ok := inst.Wait(opName)
	assert.False(t, ok, "disconnecting without reaching Done should cancel the watcher")
}

func TestStreamOperationLeavesActionAloneOnNormalCompletion(t *testing.T) {
	inst := testInstance(t)
	d := digest.Of([]byte("action-complete"))
	opName, watch := inst.Execute(d, &pb.ExecuteRequest{ActionDigest: d.Proto()})

	leases, err := inst.Poll("session-1", "bot-1", 1, nil, time.Second)
	require.NoError(t, err)
	require.Len(t, leases, 1)

	_, err = inst.Poll("session-1", "bot-1", 1, []scheduler.ReportedLease{
		{ID: leases[0].ID, State: scheduler.LeaseCompleted, Code: codes.OK},
	}, time.Second)
	require.NoError(t, err)

	stream := &fakeOperationStream{}
	err = streamOperation(stream, inst, "test", opName, watch)
	assert.NoError(t, err, "streamOperation should return cleanly once the loop observes Done")
}

func TestStreamOperationCancelsWatcherOnContextCancellation(t *testing.T) {
	inst := testInstance(t)
	d := digest.Of([]byte("action-ctx-cancel"))
	opName, watch := inst.Execute(d, &pb.ExecuteRequest{ActionDigest: d.Proto()})

	// A handler returning early because its context was cancelled behaves
	// identically to a disconnecting client as far as streamOperation's
	// cleanup is concerned: the loop never sees a Done status.
	stream := &fakeOperationStream{sendErr: errors.New("context canceled")}
	err := streamOperation(stream, inst, "test", opName, watch)
	assert.Error(t, err)

	_, ok := inst.Wait(opName)
	assert.False(t, ok)
}
