package scheduler

import (
	"sync"

	"github.com/thought-machine/rexec/src/digest"
)

// queue is the FIFO deque of action digests awaiting a worker, paired with
// a change-notification channel so long-polling workers can wake as soon
// as work arrives rather than on a fixed interval.
type queue struct {
	mu     sync.Mutex
	items  []digest.Digest
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{})}
}

// pushBack enqueues d behind all existing entries: never-started work.
func (q *queue) pushBack(d digest.Digest) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.wake()
	q.mu.Unlock()
}

// pushFront enqueues d ahead of everything else: a lease dropped without
// completion jumps the queue so it isn't starved by newer work.
func (q *queue) pushFront(d digest.Digest) {
	q.mu.Lock()
	q.items = append([]digest.Digest{d}, q.items...)
	q.wake()
	q.mu.Unlock()
}

// pop removes and returns the head digest, if any.
func (q *queue) pop() (digest.Digest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return digest.Digest{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

func (q *queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// wait returns a channel that closes the next time the queue changes.
// Callers re-call wait after each wake to get a fresh channel.
func (q *queue) wait() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notify
}

// wake must be called with q.mu held.
func (q *queue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}
