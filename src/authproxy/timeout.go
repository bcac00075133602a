package authproxy

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// BackendTimeouts holds the per-call timeouts the proxy config may set;
// currently only GetActionResult has one (§4.4).
type BackendTimeouts struct {
	GetActionResult time.Duration
}

// WithTimeout runs call under a derived context bounded by d (a no-op if
// d is zero), translating a context deadline exceeded into the
// UNAVAILABLE the client is meant to see rather than DEADLINE_EXCEEDED,
// per §4.4: "on elapse the call is abandoned and the client receives
// UNAVAILABLE: storage backend timeout".
func WithTimeout[T any](ctx context.Context, d time.Duration, call func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return call(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	resp, err := call(cctx)
	if err != nil && cctx.Err() == context.DeadlineExceeded {
		var zero T
		return zero, status.Error(codes.Unavailable, "storage backend timeout")
	}
	return resp, err
}
