package authproxy

import (
	"context"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// GetCapabilities forwards Capabilities/GetCapabilities to the instance's
// storage backend, requiring only Read — the lowest tier, since
// advertising capabilities reveals nothing a cache_ro credential
// shouldn't already see (§6, test S8).
func (p *Proxy) GetCapabilities(ctx context.Context, req *pb.GetCapabilitiesRequest) (*pb.ServerCapabilities, error) {
	guard := startRPC("GetCapabilities")
	defer guard.drop(ctx)
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), req.GetInstanceName(), Read); err != nil {
		guard.done(err)
		return nil, err
	}
	client := pb.NewCapabilitiesClient(p.Router.Route(req.GetInstanceName()).CAS.Conn)
	resp, err := WithRetry(ctx, func(ctx context.Context) (*pb.ServerCapabilities, error) {
		return client.GetCapabilities(ctx, req)
	})
	guard.done(err)
	return resp, err
}
