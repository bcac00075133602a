package scheduler

import (
	"google.golang.org/grpc/codes"

	"github.com/thought-machine/rexec/src/digest"
)

// LeaseState mirrors the Remote Workers v1test2 Lease.State enum.
type LeaseState int

const (
	LeasePending LeaseState = iota
	LeaseActive
	LeaseCompleted
	LeaseCancelled
)

// Lease is a worker-visible assignment of one action to one bot session
// (§3). Its lifetime is bounded by the session that accepted it: the
// running attribute ties it to the RunningAction guard that re-queues the
// action if the lease is dropped without being completed.
type Lease struct {
	ID      string
	Digest  digest.Digest
	Payload []byte
	State   LeaseState
	Result  []byte // encoded ActionResult, set on successful completion
	Code    codes.Code
	Message string

	running *RunningAction
}
