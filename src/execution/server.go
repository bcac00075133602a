// Package execution implements the Execution service's gRPC façade: Bots
// long-polling, Execute/WaitExecution streaming, and Operation cancellation,
// dispatching each call to the scheduler.Instance for its REAPI instance
// name (§4.1, §6).
package execution

import (
	"time"

	"github.com/thought-machine/rexec/src/cmap"
	"github.com/thought-machine/rexec/src/scheduler"
)

// Server owns one scheduler.Instance per REAPI instance name, creating them
// lazily on first use — unlike storage instances, which must be configured
// up front, execution instances have no per-instance backend config to
// validate against. Instance names repeat on every Bots poll and every
// Execute call, so lookups are on the hot path; cmap.Map lets concurrent
// first-touches of the same new instance name race without holding a single
// mutex across the scheduler.NewInstance call.
type Server struct {
	instances         *cmap.Map[string, *scheduler.Instance]
	expirationTimeout time.Duration
}

// NewServer constructs an execution Server. expirationTimeout is passed to
// every scheduler.Instance it creates lazily; zero means
// scheduler.DefaultExpirationTimeout.
func NewServer(expirationTimeout time.Duration) *Server {
	return &Server{
		instances:         cmap.New[string, *scheduler.Instance](cmap.DefaultShardCount, cmap.XXHash),
		expirationTimeout: expirationTimeout,
	}
}

func (s *Server) instance(name string) *scheduler.Instance {
	if inst, ok := s.instances.GetOK(name); ok {
		return inst
	}
	inst, wait, first := s.instances.GetOrWait(name)
	if wait == nil {
		return inst
	}
	if !first {
		<-wait
		inst, _ = s.instances.GetOK(name)
		return inst
	}
	inst = scheduler.NewInstance(name, s.expirationTimeout)
	s.instances.Set(name, inst)
	return inst
}
