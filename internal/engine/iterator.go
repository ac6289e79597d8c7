package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/overlook-dev/overlook/internal/derive"
)

// ErrIteratorClosed is returned by Next after Close or context
// cancellation once the buffered snapshots are drained.
var ErrIteratorClosed = errors.New("engine: iterator closed")

// Iterator is the cooperative consumption surface: the first Next
// returns the current snapshot, later calls block until the next
// mutation. Snapshots produced faster than the consumer drains them
// are buffered FIFO and never dropped.
type Iterator struct {
	mu     sync.Mutex
	queue  []*derive.Snapshot
	wake   chan struct{}
	closed bool

	unsub func()
	stop  func() bool // releases the context watcher
}

// Updates subscribes and returns an iterator bound to ctx: cancelling
// the context (or calling Close) releases the subscription
// deterministically, even mid-iteration.
func (e *Engine) Updates(ctx context.Context) *Iterator {
	it := &Iterator{wake: make(chan struct{}, 1)}
	// The immediate callback inside Subscribe seeds the first yield.
	it.unsub = e.Subscribe(it.push)

	afterStop := context.AfterFunc(ctx, it.Close)
	it.mu.Lock()
	it.stop = afterStop
	it.mu.Unlock()
	return it
}

// push enqueues a snapshot from the engine's mutation path.
func (it *Iterator) push(snap *derive.Snapshot) {
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return
	}
	it.queue = append(it.queue, snap)
	it.mu.Unlock()

	select {
	case it.wake <- struct{}{}:
	default:
	}
}

// Next returns the next snapshot, blocking until one is available.
// Buffered snapshots are still delivered after Close; once drained,
// Next returns ErrIteratorClosed.
func (it *Iterator) Next(ctx context.Context) (*derive.Snapshot, error) {
	for {
		it.mu.Lock()
		if len(it.queue) > 0 {
			snap := it.queue[0]
			it.queue = it.queue[1:]
			it.mu.Unlock()
			return snap, nil
		}
		closed := it.closed
		it.mu.Unlock()

		if closed {
			return nil, ErrIteratorClosed
		}

		select {
		case <-it.wake:
		case <-ctx.Done():
			it.Close()
			return nil, ctx.Err()
		}
	}
}

// Close unsubscribes and wakes any blocked Next. Idempotent.
func (it *Iterator) Close() {
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return
	}
	it.closed = true
	stop, unsub := it.stop, it.unsub
	it.mu.Unlock()

	if stop != nil {
		stop()
	}
	unsub()

	select {
	case it.wake <- struct{}{}:
	default:
	}
}
