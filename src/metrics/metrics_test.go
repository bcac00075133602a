package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInFlightUnbounded(t *testing.T) {
	f := NewInFlight("test_unbounded_in_flight", "help", 0)
	release, err := f.Acquire(context.Background())
	assert.NoError(t, err)
	release()
}

func TestInFlightBoundedBlocks(t *testing.T) {
	f := NewInFlight("test_bounded_in_flight", "help", 1)
	release, err := f.Acquire(context.Background())
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Acquire(ctx)
	assert.Error(t, err, "second acquire should block until the deadline since the limit is 1")

	release()
	release2, err := f.Acquire(context.Background())
	assert.NoError(t, err, "slot should be free again after release")
	release2()
}

func TestHandlerNotNil(t *testing.T) {
	assert.NotNil(t, Handler())
}
