package authproxy

import (
	"context"

	"google.golang.org/grpc/status"

	"github.com/thought-machine/rexec/src/grpcutil"
)

// callOnce invokes call exactly once and reports whether its error (if
// any) is retryable per grpcutil.RetryableCode.
func callOnce[T any](ctx context.Context, call func(context.Context) (T, error)) (T, bool, error) {
	resp, err := call(ctx)
	if err == nil {
		return resp, false, nil
	}
	st := status.Convert(err)
	return resp, grpcutil.RetryableCode(st.Code()), err
}

// WithRetry invokes call, retrying exactly once if the first attempt fails
// with a retryable code, per §4.4's retry policy: "On first failure with
// one of these, retry exactly once. Non-retryable codes or a second
// failure surface to the caller." WithRetry is used only on unary calls;
// the streaming relays (see bytestream_service.go) do not retry at all,
// since a stream, once partially forwarded, cannot be retried from the top.
func WithRetry[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	resp, retryable, err := callOnce(ctx, call)
	if err == nil || !retryable {
		return resp, err
	}
	return call(ctx)
}
