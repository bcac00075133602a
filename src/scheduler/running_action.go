package scheduler

import "time"

// RunningAction is the scoped handle minted alongside a Lease (§3). Go has
// no equivalent of a scope-exit destructor, so every code path that stops
// tracking a lease must explicitly call either Complete (a worker reported
// a result) or Cancel (the lease was dropped without one — worker
// expiration, an implicit-cancellation sweep, or a lost session) so the
// guard's re-queue/metric behaviour always runs.
type RunningAction struct {
	instance *Instance
	action   *Action
	started  time.Time
	done     bool
}

func newRunningAction(instance *Instance, action *Action) *RunningAction {
	return &RunningAction{instance: instance, action: action, started: time.Now()}
}

// Complete publishes a terminal status (success or error) reported by the
// worker, removes the Action from the instance's all-actions map, and
// records a "complete" duration metric.
func (r *RunningAction) Complete(status ActionStatus) {
	if r.done {
		return
	}
	r.done = true
	r.instance.removeAction(r.action.Digest)
	r.action.publish(status)
	actionLeaseDuration.WithLabelValues("complete").Observe(time.Since(r.started).Seconds())
}

// Cancel re-queues the action (jumping the front of the deque) and
// publishes Running{Queued} again, for the "dropped without completion"
// path: worker expiry, implicit cancellation, or an explicit lease
// rescission.
func (r *RunningAction) Cancel() {
	if r.done {
		return
	}
	r.done = true
	r.action.publish(runningStatus(StageQueued))
	r.instance.queue.pushFront(r.action.Digest)
	actionLeaseDuration.WithLabelValues("cancelled").Observe(time.Since(r.started).Seconds())
}
