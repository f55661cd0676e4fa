package recorder

import (
	"context"
	"sync"

	"github.com/kalambet/caplog/internal/textproc"
)

// DefaultQueueSize bounds the results waiting for the consumer.
const DefaultQueueSize = 10

// Queue is a bounded FIFO of recognition results. When full, Push evicts the
// oldest queued result so that the newest caption is always admitted; that
// suits a live capture loop. PushWait blocks instead, for replayed input
// that must not lose samples. Closing the queue keeps already queued results
// available to Pop.
type Queue struct {
	// Push and Close hold mu exclusively; PushWait holds it shared while
	// blocked, and leaves once stopping is closed.
	mu       sync.RWMutex
	items    chan textproc.Result
	closed   bool
	stopping chan struct{}
	stopOnce sync.Once
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		items:    make(chan textproc.Result, size),
		stopping: make(chan struct{}),
	}
}

// Push enqueues res. It reports whether an older result was evicted and
// returns ErrStopped after Close.
func (q *Queue) Push(res textproc.Result) (evicted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrStopped
	}
	for {
		select {
		case q.items <- res:
			return evicted, nil
		default:
		}
		// Full: the consumer may race us to the oldest item, so only count
		// an eviction if we actually took one.
		select {
		case <-q.items:
			evicted = true
		default:
		}
	}
}

// PushWait enqueues res, waiting for room rather than evicting. It returns
// ErrStopped once the queue is closing and ctx.Err() if ctx ends first.
func (q *Queue) PushWait(ctx context.Context, res textproc.Result) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrStopped
	}
	select {
	case q.items <- res:
		return nil
	case <-q.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until a result is available. It returns false once the queue
// is closed and empty.
func (q *Queue) Pop() (textproc.Result, bool) {
	res, ok := <-q.items
	return res, ok
}

// C exposes the receive side for select loops.
func (q *Queue) C() <-chan textproc.Result {
	return q.items
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Close stops further pushes. It is safe to call more than once.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stopping) })
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}
