package scheduler

import (
	"sync"
	"time"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"

	"github.com/thought-machine/rexec/src/digest"
)

// DefaultExpirationTimeout is how long a worker session's lease on its
// capacity lasts without a fresh poll before it's reaped.
const DefaultExpirationTimeout = 60 * time.Second

// Instance holds one customer namespace's scheduler state: the all-actions
// map, the live worker sessions, and the queue linking them (§4.1). The
// locking discipline is a hard invariant: the actions mutex may be
// acquired while holding the workers mutex, never the reverse.
type Instance struct {
	name string

	workersMu sync.Mutex
	workers   map[string]*Worker

	actionsMu sync.Mutex
	actions   map[digest.Digest]*Action

	queue             *queue
	expirationTimeout time.Duration

	stopSweeper chan struct{}
}

// NewInstance constructs an empty Instance and starts its worker
// expiration sweeper.
func NewInstance(name string, expirationTimeout time.Duration) *Instance {
	if expirationTimeout <= 0 {
		expirationTimeout = DefaultExpirationTimeout
	}
	i := &Instance{
		name:              name,
		workers:           map[string]*Worker{},
		actions:           map[digest.Digest]*Action{},
		queue:             newQueue(),
		expirationTimeout: expirationTimeout,
		stopSweeper:       make(chan struct{}),
	}
	go i.sweepExpiredWorkers()
	return i
}

// Close stops the background expiration sweeper.
func (i *Instance) Close() {
	close(i.stopSweeper)
}

func (i *Instance) removeAction(d digest.Digest) {
	i.actionsMu.Lock()
	delete(i.actions, d)
	i.actionsMu.Unlock()
	actionsRunning.WithLabelValues(i.name).Dec()
}

// Execute registers an Execute call against actionDigest, deduplicating
// onto any Action already in flight for the same digest. It returns a
// fresh operation name and a read-only status channel for it.
func (i *Instance) Execute(actionDigest digest.Digest, req *pb.ExecuteRequest) (string, <-chan ActionStatus) {
	opName := uuid.NewString()

	i.actionsMu.Lock()
	action, exists := i.actions[actionDigest]
	if !exists {
		action = newAction(actionDigest, req)
		i.actions[actionDigest] = action
	}
	i.actionsMu.Unlock()

	watch := action.addWatcher(opName)
	if !exists {
		actionsQueued.WithLabelValues(i.name).Inc()
		i.queue.pushBack(actionDigest)
	}
	return opName, watch
}

// Wait returns a fresh watcher on the Action behind opName, if it's still
// live. Implemented as a linear scan: cardinality is bounded by concurrent
// client streams, as the spec notes.
func (i *Instance) Wait(opName string) (<-chan ActionStatus, bool) {
	i.actionsMu.Lock()
	defer i.actionsMu.Unlock()
	for _, action := range i.actions {
		action.mu.Lock()
		_, ok := action.watchers[opName]
		action.mu.Unlock()
		if ok {
			return action.addWatcher(opName), true
		}
	}
	return nil, false
}

// Cancel removes opName's watcher from whichever Action holds it. If that
// was the Action's last watcher, the Action is dropped from the
// all-actions map; any RunningAction still executing it will observe
// isCancelled on its next check.
func (i *Instance) Cancel(opName string) {
	i.actionsMu.Lock()
	defer i.actionsMu.Unlock()
	for d, action := range i.actions {
		action.mu.Lock()
		_, ok := action.watchers[opName]
		action.mu.Unlock()
		if !ok {
			continue
		}
		remaining := action.removeWatcher(opName)
		if remaining == 0 {
			delete(i.actions, d)
		}
		return
	}
}

// isCancelled implements §4.1's cancellation detection: a missing Action
// entry, or one with zero watchers, counts as cancelled.
func (i *Instance) isCancelled(d digest.Digest) bool {
	i.actionsMu.Lock()
	action, ok := i.actions[d]
	i.actionsMu.Unlock()
	if !ok {
		return true
	}
	return !action.hasWatchers()
}

// ReportedLease is one lease a worker is reporting back on, as part of
// Poll's session.leases.
type ReportedLease struct {
	ID      string
	State   LeaseState
	Result  []byte // encoded ActionResult, meaningful when Code == codes.OK
	Code    codes.Code
	Message string
}

// Poll runs the worker long-poll algorithm (§4.1) for one session: finalize
// leases the worker reported as terminal, extend the session's expiration,
// drop leases whose backing Action was cancelled, and — while the worker
// has spare capacity and the queue isn't empty — mint new leases. It
// returns the session's current lease set once either something changed
// this round or the worker already holds an active lease; otherwise it
// blocks until the queue changes or deadline elapses.
func (i *Instance) Poll(sessionName, botID string, capacity int, reported []ReportedLease, deadline time.Duration) ([]*Lease, error) {
	worker, err := i.sessionFor(sessionName, botID, capacity)
	if err != nil {
		return nil, err
	}

	i.finalizeReportedLeases(worker, reported)

	deadlineAt := time.Now().Add(deadline)
	for {
		mutated := i.pollStep(worker)

		i.workersMu.Lock()
		hasActive := worker.activeLeaseCount() > 0
		leases := leaseSlice(worker)
		i.workersMu.Unlock()

		if mutated || hasActive {
			return leases, nil
		}

		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			return leases, nil
		}
		select {
		case <-i.queue.wait():
		case <-time.After(remaining):
			return leases, nil
		}
	}
}

// sessionFor fetches or creates the Worker record for sessionName,
// rejecting a bot ID change on an existing session per the proxy-facing
// contract: a session name is permanently bound to the bot that opened it.
func (i *Instance) sessionFor(sessionName, botID string, capacity int) (*Worker, error) {
	i.workersMu.Lock()
	defer i.workersMu.Unlock()
	w, ok := i.workers[sessionName]
	if !ok {
		w = newWorker(sessionName, botID, capacity, time.Now().Add(i.expirationTimeout))
		i.workers[sessionName] = w
		return w, nil
	}
	if w.BotID != botID {
		return nil, errBotIDChanged
	}
	return w, nil
}

func (i *Instance) finalizeReportedLeases(worker *Worker, reported []ReportedLease) {
	for _, rl := range reported {
		if rl.State != LeaseCompleted && rl.State != LeaseCancelled {
			continue
		}
		i.workersMu.Lock()
		lease, ok := worker.Leases[rl.ID]
		if ok {
			delete(worker.Leases, rl.ID)
		}
		i.workersMu.Unlock()
		if !ok || lease.running == nil {
			continue
		}

		var status ActionStatus
		if rl.Code == codes.OK {
			result := &pb.ActionResult{}
			if err := proto.Unmarshal(rl.Result, result); err != nil {
				status = completedErr(codes.Internal, "malformed action result from worker: "+err.Error())
			} else {
				status = completedOK(result)
			}
			leasesCompleted.WithLabelValues("ok").Inc()
		} else {
			status = completedErr(rl.Code, rl.Message)
			leasesCompleted.WithLabelValues("error").Inc()
		}
		lease.running.Complete(status)
	}
}

// pollStep runs one iteration of the body of the poll loop (steps a-c of
// §4.1's algorithm) and reports whether the session was mutated.
func (i *Instance) pollStep(worker *Worker) bool {
	mutated := false

	i.workersMu.Lock()
	worker.ExpiresAt = time.Now().Add(i.expirationTimeout)
	i.workersMu.Unlock()

	// (b) drop leases whose Action has been implicitly cancelled.
	i.workersMu.Lock()
	var toDrop []*Lease
	for id, lease := range worker.Leases {
		if i.isCancelled(lease.Digest) {
			toDrop = append(toDrop, lease)
			delete(worker.Leases, id)
		}
	}
	i.workersMu.Unlock()
	for _, lease := range toDrop {
		if lease.running != nil {
			lease.running.Cancel()
		}
		mutated = true
	}

	// (c) fill spare capacity from the queue.
	for {
		i.workersMu.Lock()
		hasCapacity := worker.hasSpareCapacity()
		i.workersMu.Unlock()
		if !hasCapacity {
			break
		}
		d, ok := i.queue.pop()
		if !ok {
			break
		}

		i.actionsMu.Lock()
		action, exists := i.actions[d]
		i.actionsMu.Unlock()
		if !exists {
			// Action was cancelled/removed while queued; drop the digest.
			continue
		}

		lease := &Lease{
			ID:      uuid.NewString(),
			Digest:  d,
			State:   LeasePending,
			running: newRunningAction(i, action),
		}
		if payload, err := proto.Marshal(action.Request); err == nil {
			lease.Payload = payload
		}
		action.publish(runningStatus(StageExecuting))

		i.workersMu.Lock()
		worker.Leases[lease.ID] = lease
		i.workersMu.Unlock()

		actionsQueued.WithLabelValues(i.name).Dec()
		actionsRunning.WithLabelValues(i.name).Inc()
		mutated = true
	}

	return mutated
}

func leaseSlice(worker *Worker) []*Lease {
	out := make([]*Lease, 0, len(worker.Leases))
	for _, l := range worker.Leases {
		out = append(out, l)
	}
	return out
}

// sweepExpiredWorkers is the background task described in §5: it reaps any
// worker whose expiration deadline has passed, dropping (and thereby
// re-queueing) every lease it still held.
func (i *Instance) sweepExpiredWorkers() {
	t := time.NewTicker(i.expirationTimeout / 2)
	defer t.Stop()
	for {
		select {
		case <-i.stopSweeper:
			return
		case <-t.C:
			i.reapExpiredWorkers()
		}
	}
}

func (i *Instance) reapExpiredWorkers() {
	now := time.Now()
	var expiredLeases []*Lease

	i.workersMu.Lock()
	for name, w := range i.workers {
		if now.After(w.ExpiresAt) {
			for _, l := range w.Leases {
				expiredLeases = append(expiredLeases, l)
			}
			delete(i.workers, name)
		}
	}
	i.workersMu.Unlock()

	for _, l := range expiredLeases {
		if l.running != nil {
			l.running.Cancel()
		}
	}
}
