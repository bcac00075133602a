package authproxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	attempts := 0
	resp, err := WithRetry(context.Background(), func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", status.Error(codes.Unavailable, "backend restarting")
		}
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, 2, attempts)
}

func TestWithRetryDoesNotRetryNonRetryableCode(t *testing.T) {
	attempts := 0
	_, err := WithRetry(context.Background(), func(context.Context) (string, error) {
		attempts++
		return "", status.Error(codes.NotFound, "no such blob")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryOnlyRetriesOnce(t *testing.T) {
	attempts := 0
	_, err := WithRetry(context.Background(), func(context.Context) (string, error) {
		attempts++
		return "", status.Error(codes.Unavailable, "still restarting")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithTimeoutTranslatesDeadlineExceeded(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestWithTimeoutZeroIsNoOp(t *testing.T) {
	resp, err := WithTimeout(context.Background(), 0, func(context.Context) (string, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
