// Package redis implements the Redis-backed storage drivers: a "chunked"
// encoding (large blobs split across a data list with a content-hash index)
// and a "direct" encoding (the whole blob under one key, for small blobs).
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pool is a fixed-size worker-pool façade over a *redis.Client. Unlike
// relying purely on the go-redis client's own internal connection pool,
// this keeps the "N workers drain a shared task channel" shape of
// original_source's driver/redis/pool.rs, so queueing time is visible and
// bounded independent of however go-redis chooses to size its own pool.
type Pool struct {
	Client *redis.Client
	tasks  chan func()
}

// NewPool starts workers goroutines driving tasks against client.
func NewPool(client *redis.Client, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{Client: client, tasks: make(chan func(), workers*4)}
	for i := 0; i < workers; i++ {
		go p.runWorker()
	}
	return p
}

func (p *Pool) runWorker() {
	for task := range p.tasks {
		task()
	}
}

// Do submits f to the pool and blocks until it has run (or ctx is
// cancelled first, in which case f may still run later but its result is
// discarded).
func (p *Pool) Do(ctx context.Context, f func(ctx context.Context) error) error {
	done := make(chan error, 1)
	queued := time.Now()
	select {
	case p.tasks <- func() {
		queueTime.Observe(time.Since(queued).Seconds())
		done <- f(ctx)
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new tasks. In-flight tasks already queued are
// allowed to drain.
func (p *Pool) Close() {
	close(p.tasks)
}
