// Package scheduler implements the Execution Scheduler (§4.1): per-instance
// matching of queued actions to long-polling worker sessions, lease state
// machines, worker expiration, and action-status fan-out to many watchers.
package scheduler

import (
	"sync"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/grpc/codes"

	"github.com/thought-machine/rexec/src/digest"
)

// Stage is the Running sub-state of an ActionStatus.
type Stage int

const (
	StageQueued Stage = iota
	StageExecuting
)

// ActionStatus is the discriminated union of §3: either still Running (at
// some Stage) or terminally Completed, with either a result or an error.
type ActionStatus struct {
	Stage   Stage
	Done    bool
	Result  *pb.ActionResult
	Code    codes.Code
	Message string
}

func runningStatus(stage Stage) ActionStatus {
	return ActionStatus{Stage: stage}
}

func completedOK(result *pb.ActionResult) ActionStatus {
	return ActionStatus{Done: true, Result: result}
}

func completedErr(code codes.Code, message string) ActionStatus {
	return ActionStatus{Done: true, Code: code, Message: message}
}

// Action is the scheduler's central entity (§3): one per distinct action
// digest, shared by every Execute call that dedups onto it, and watched by
// every Operation multiplexed onto it.
type Action struct {
	Digest  digest.Digest
	Request *pb.ExecuteRequest

	mu       sync.Mutex
	status   ActionStatus
	watchers map[string]chan ActionStatus
}

func newAction(d digest.Digest, req *pb.ExecuteRequest) *Action {
	return &Action{
		Digest:   d,
		Request:  req,
		status:   runningStatus(StageQueued),
		watchers: map[string]chan ActionStatus{},
	}
}

// addWatcher registers a fresh watcher under opName and returns a channel
// that immediately holds the current status and receives every subsequent
// update until the Action completes.
func (a *Action) addWatcher(opName string) <-chan ActionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan ActionStatus, 1)
	ch <- a.status
	a.watchers[opName] = ch
	return ch
}

// removeWatcher drops the named watcher. It returns how many watchers
// remain, which callers use to decide whether the Action is now orphaned.
func (a *Action) removeWatcher(opName string) (remaining int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.watchers, opName)
	return len(a.watchers)
}

// hasWatchers reports whether the Action currently has any live watcher;
// an Action with none is considered cancelled (§4.1 cancellation
// detection).
func (a *Action) hasWatchers() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.watchers) > 0
}

// publish sets the Action's status and broadcasts it to every watcher,
// replacing any unread value so watchers always observe the latest state
// rather than queueing a backlog.
func (a *Action) publish(status ActionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	for _, ch := range a.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- status
	}
}
