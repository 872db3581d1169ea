// Package pipeline moves decoded events from the transport to the
// handler chain: a bounded account queue feeds a consumer that fans
// events out to per-user serialized dispatchers.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/channel/pdd"
)

// ErrQueueClosed is returned by Put after Close.
var ErrQueueClosed = errors.New("queue closed")

// DefaultQueueSize bounds the account queue.
const DefaultQueueSize = 1000

// Item wraps one queued event.
type Item struct {
	ID         string
	EnqueuedAt time.Time
	Event      *pdd.Event
	Attempts   int
}

// Queue is the bounded FIFO between one account's transport reader and
// its consumer. Put blocks while full; that backpressure is deliberate.
type Queue struct {
	ch chan *Item

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewQueue builds a queue with the given capacity.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:   make(chan *Item, size),
		done: make(chan struct{}),
	}
}

// Put enqueues an event and returns its id. Blocks while the queue is
// full; fails once the queue is closed.
func (q *Queue) Put(ctx context.Context, ev *pdd.Event) (string, error) {
	item := &Item{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now(),
		Event:      ev,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.ch <- item:
		return item.ID, nil
	case <-q.done:
		return "", ErrQueueClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Get dequeues the next item in FIFO order. After Close it keeps
// returning buffered items until drained, then nil.
func (q *Queue) Get(ctx context.Context) (*Item, error) {
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}
	select {
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		// Drain whatever was buffered before the close.
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return nil, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the buffered item count.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close wakes all waiters. Later Puts fail; Gets drain the backlog.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}
