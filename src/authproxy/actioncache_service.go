package authproxy

import (
	"context"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// GetActionResult forwards ActionCache/GetActionResult to the instance's
// action cache backend, requiring Read and subject to the configured
// GetActionResult timeout (§4.4's only per-call timeout today).
func (p *Proxy) GetActionResult(ctx context.Context, req *pb.GetActionResultRequest) (*pb.ActionResult, error) {
	guard := startRPC("GetActionResult")
	defer guard.drop(ctx)
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), req.GetInstanceName(), Read); err != nil {
		guard.done(err)
		return nil, err
	}
	client := pb.NewActionCacheClient(p.Router.Route(req.GetInstanceName()).ActionCache.Conn)
	resp, err := WithTimeout(ctx, p.Timeouts.GetActionResult, func(ctx context.Context) (*pb.ActionResult, error) {
		return WithRetry(ctx, func(ctx context.Context) (*pb.ActionResult, error) {
			return client.GetActionResult(ctx, req)
		})
	})
	guard.done(err)
	return resp, err
}

// UpdateActionResult forwards ActionCache/UpdateActionResult, requiring ReadWrite.
func (p *Proxy) UpdateActionResult(ctx context.Context, req *pb.UpdateActionResultRequest) (*pb.ActionResult, error) {
	guard := startRPC("UpdateActionResult")
	defer guard.drop(ctx)
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), req.GetInstanceName(), ReadWrite); err != nil {
		guard.done(err)
		return nil, err
	}
	client := pb.NewActionCacheClient(p.Router.Route(req.GetInstanceName()).ActionCache.Conn)
	resp, err := WithRetry(ctx, func(ctx context.Context) (*pb.ActionResult, error) {
		return client.UpdateActionResult(ctx, req)
	})
	guard.done(err)
	return resp, err
}
