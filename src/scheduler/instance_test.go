package scheduler

import (
	"testing"
	"time"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"

	"github.com/thought-machine/rexec/src/digest"
)

func testInstance(t *testing.T) *Instance {
	t.Helper()
	i := NewInstance("test", 50*time.Millisecond)
	t.Cleanup(i.Close)
	return i
}

func TestExecuteDedupsOnDigest(t *testing.T) {
	i := testInstance(t)
	d := digest.Of([]byte("action-1"))
	req := &pb.ExecuteRequest{ActionDigest: d.Proto()}

	op1, watch1 := i.Execute(d, req)
	op2, watch2 := i.Execute(d, req)

	assert.NotEqual(t, op1, op2)
	assert.Equal(t, 1, i.queue.len())

	status1 := <-watch1
	status2 := <-watch2
	assert.Equal(t, StageQueued, status1.Stage)
	assert.Equal(t, StageQueued, status2.Stage)
}

func TestCancelRemovesLastWatcher(t *testing.T) {
	i := testInstance(t)
	d := digest.Of([]byte("action-2"))
	op, _ := i.Execute(d, &pb.ExecuteRequest{ActionDigest: d.Proto()})

	assert.False(t, i.isCancelled(d))
	i.Cancel(op)
	assert.True(t, i.isCancelled(d))
}

func TestPollAssignsLeaseFromQueue(t *testing.T) {
	i := testInstance(t)
	d := digest.Of([]byte("action-3"))
	_, watch := i.Execute(d, &pb.ExecuteRequest{ActionDigest: d.Proto()})

	leases, err := i.Poll("session-1", "bot-1", 1, nil, time.Second)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, d, leases[0].Digest)
	assert.Equal(t, LeasePending, leases[0].State)

	status := <-watch
	assert.Equal(t, StageExecuting, status.Stage)
}

func TestPollRejectsBotIDChange(t *testing.T) {
	i := testInstance(t)
	_, err := i.Poll("session-2", "bot-a", 1, nil, time.Millisecond)
	require.NoError(t, err)

	_, err = i.Poll("session-2", "bot-b", 1, nil, time.Millisecond)
	assert.ErrorIs(t, err, errBotIDChanged)
}

func TestPollFinalizesCompletedLease(t *testing.T) {
	i := testInstance(t)
	d := digest.Of([]byte("action-4"))
	_, watch := i.Execute(d, &pb.ExecuteRequest{ActionDigest: d.Proto()})

	leases, err := i.Poll("session-3", "bot-1", 1, nil, time.Second)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	leaseID := leases[0].ID

	result := &pb.ActionResult{ExitCode: 0}
	raw, err := proto.Marshal(result)
	require.NoError(t, err)

	_, err = i.Poll("session-3", "bot-1", 1, []ReportedLease{
		{ID: leaseID, State: LeaseCompleted, Result: raw, Code: codes.OK},
	}, time.Millisecond)
	require.NoError(t, err)

	status := <-watch
	require.True(t, status.Done)
	require.NotNil(t, status.Result)
	assert.Equal(t, int32(0), status.Result.ExitCode)
}

func TestWorkerExpirationRequeuesLease(t *testing.T) {
	i := testInstance(t)
	d := digest.Of([]byte("action-5"))
	_, watch := i.Execute(d, &pb.ExecuteRequest{ActionDigest: d.Proto()})

	leases, err := i.Poll("session-4", "bot-1", 1, nil, time.Second)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	// Drain the Executing status before expiration republishes Queued.
	<-watch

	i.workersMu.Lock()
	i.workers["session-4"].ExpiresAt = time.Now().Add(-time.Second)
	i.workersMu.Unlock()

	i.reapExpiredWorkers()

	status := <-watch
	assert.Equal(t, StageQueued, status.Stage)
	assert.Equal(t, 1, i.queue.len())
}
