package authproxy

import (
	"context"

	remoteworkers "google.golang.org/genproto/googleapis/devtools/remoteworkers/v1test2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CreateBotSession forwards Bots/CreateBotSession, requiring Execute. The
// instance name is the whole parent field at session-creation time (the
// execution service mints the session id itself on first poll).
func (p *Proxy) CreateBotSession(ctx context.Context, req *remoteworkers.CreateBotSessionRequest) (*remoteworkers.BotSession, error) {
	guard := startRPC("CreateBotSession")
	defer guard.drop(ctx)
	instanceName := req.GetParent()
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), instanceName, Execute); err != nil {
		guard.done(err)
		return nil, err
	}
	route := p.Router.Route(instanceName)
	if route.Execution == nil {
		err := status.Errorf(codes.NotFound, "instance %q has no execution backend", instanceName)
		guard.done(err)
		return nil, err
	}
	client := remoteworkers.NewBotsClient(route.Execution.Conn)
	resp, err := WithRetry(ctx, func(ctx context.Context) (*remoteworkers.BotSession, error) {
		return client.CreateBotSession(ctx, req)
	})
	guard.done(err)
	return resp, err
}

// UpdateBotSession forwards Bots/UpdateBotSession, requiring Execute. The
// bot session name is "{instance}/{session}"; no retry, since the worker's
// long poll is not idempotent against a scheduler that may already have
// assigned new leases in response to the first delivered attempt.
func (p *Proxy) UpdateBotSession(ctx context.Context, req *remoteworkers.UpdateBotSessionRequest) (*remoteworkers.BotSession, error) {
	guard := startRPC("UpdateBotSession")
	defer guard.drop(ctx)
	instanceName, _, err := splitOperationName(req.GetName())
	if err != nil {
		guard.done(err)
		return nil, err
	}
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), instanceName, Execute); err != nil {
		guard.done(err)
		return nil, err
	}
	route := p.Router.Route(instanceName)
	if route.Execution == nil {
		err := status.Errorf(codes.NotFound, "instance %q has no execution backend", instanceName)
		guard.done(err)
		return nil, err
	}
	client := remoteworkers.NewBotsClient(route.Execution.Conn)
	resp, err := client.UpdateBotSession(ctx, req)
	guard.done(err)
	return resp, err
}
