package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	remoteworkers "google.golang.org/genproto/googleapis/devtools/remoteworkers/v1test2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/thought-machine/rexec/src/scheduler"
)

const executeRequestTypeURL = "type.googleapis.com/build.bazel.remote.execution.v2.ExecuteRequest"

// CreateBotSession implements Bots/CreateBotSession: the first poll for a
// brand-new session name. It is handled identically to UpdateBotSession —
// the scheduler creates the session record lazily on first use — except
// that the request carries no prior leases to report on.
func (s *Server) CreateBotSession(ctx context.Context, req *remoteworkers.CreateBotSessionRequest) (*remoteworkers.BotSession, error) {
	return s.poll(ctx, req.GetParent(), req.GetBotSession())
}

// UpdateBotSession implements Bots/UpdateBotSession, the worker long-poll.
func (s *Server) UpdateBotSession(ctx context.Context, req *remoteworkers.UpdateBotSessionRequest) (*remoteworkers.BotSession, error) {
	return s.poll(ctx, req.GetName(), req.GetBotSession())
}

func (s *Server) poll(ctx context.Context, name string, session *remoteworkers.BotSession) (*remoteworkers.BotSession, error) {
	if session == nil || session.GetBot() == nil {
		return nil, status.Error(codes.InvalidArgument, "bot_session.bot is required")
	}
	instanceName, sessionName, err := splitOperationName(name)
	if err != nil {
		// CreateBotSession's parent is just the instance name, with no
		// session component yet; fall back to treating the whole name as
		// the instance and minting a fresh session id for it.
		instanceName, sessionName = name, uuid.NewString()
	}

	reported, err := fromReportedLeases(session.GetLeases())
	if err != nil {
		return nil, err
	}

	deadline := 30 * time.Second
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining > 0 {
			deadline = remaining
		}
	}

	leases, err := s.instance(instanceName).Poll(sessionName, session.GetBot().GetBotId(), 1, reported, deadline)
	if err != nil {
		if err == scheduler.ErrBotIDChanged {
			return nil, status.Error(codes.FailedPrecondition, "session is already bound to a different bot id")
		}
		return nil, status.Errorf(codes.Internal, "poll failed: %v", err)
	}

	wireLeases, err := toWireLeases(leases)
	if err != nil {
		return nil, err
	}

	return &remoteworkers.BotSession{
		Name:   instanceName + "/" + sessionName,
		Bot:    session.GetBot(),
		Leases: wireLeases,
	}, nil
}

func fromReportedLeases(leases []*remoteworkers.Lease) ([]scheduler.ReportedLease, error) {
	out := make([]scheduler.ReportedLease, 0, len(leases))
	for _, l := range leases {
		state, ok := fromWireState(l.GetState())
		if !ok {
			continue // Pending/Active leases aren't reported back for finalization.
		}
		rl := scheduler.ReportedLease{ID: l.GetId(), State: state}
		if st := l.GetStatus(); st != nil {
			rl.Code = codes.Code(st.GetCode())
			rl.Message = st.GetMessage()
		}
		if result := l.GetResult(); result != nil {
			rl.Result = result.GetValue()
		}
		out = append(out, rl)
	}
	return out, nil
}

func fromWireState(s remoteworkers.LeaseState) (scheduler.LeaseState, bool) {
	switch s {
	case remoteworkers.LeaseState_COMPLETED:
		return scheduler.LeaseCompleted, true
	case remoteworkers.LeaseState_CANCELLED:
		return scheduler.LeaseCancelled, true
	default:
		return 0, false
	}
}

func toWireLeases(leases []*scheduler.Lease) ([]*remoteworkers.Lease, error) {
	out := make([]*remoteworkers.Lease, 0, len(leases))
	for _, l := range leases {
		out = append(out, &remoteworkers.Lease{
			Id:         l.ID,
			Payload:    &anypb.Any{TypeUrl: executeRequestTypeURL, Value: l.Payload},
			State:      toWireState(l.State),
			ExpireTime: timestamppb.New(time.Now().Add(scheduler.DefaultExpirationTimeout)),
		})
	}
	return out, nil
}

func toWireState(s scheduler.LeaseState) remoteworkers.LeaseState {
	switch s {
	case scheduler.LeasePending:
		return remoteworkers.LeaseState_PENDING
	case scheduler.LeaseActive:
		return remoteworkers.LeaseState_ACTIVE
	case scheduler.LeaseCompleted:
		return remoteworkers.LeaseState_COMPLETED
	case scheduler.LeaseCancelled:
		return remoteworkers.LeaseState_CANCELLED
	default:
		return remoteworkers.LeaseState_LEASE_STATE_UNSPECIFIED
	}
}
