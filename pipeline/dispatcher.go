package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultDispatcherIdle is how long a user worker lingers without
// messages before exiting.
const DefaultDispatcherIdle = 30 * time.Second

// userDispatcher serializes the handler chain for one user_key. Events
// for the same buyer always run one at a time, in arrival order.
type userDispatcher struct {
	userKey string
	logger  *slog.Logger
	chain   Chain
	sem     *semaphore.Weighted
	idle    time.Duration

	inbox chan *Item
	stop  chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	exited bool
}

func newUserDispatcher(userKey string, logger *slog.Logger, chain Chain, sem *semaphore.Weighted, idle time.Duration, inboxSize int) *userDispatcher {
	if idle <= 0 {
		idle = DefaultDispatcherIdle
	}
	if inboxSize <= 0 {
		inboxSize = 64
	}
	d := &userDispatcher{
		userKey: userKey,
		logger:  logger,
		chain:   chain,
		sem:     sem,
		idle:    idle,
		inbox:   make(chan *Item, inboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue hands an item to the worker. Returns false when the worker has
// already exited; the caller then creates a fresh dispatcher.
func (d *userDispatcher) enqueue(item *Item) bool {
	d.mu.Lock()
	if d.exited {
		d.mu.Unlock()
		return false
	}
	select {
	case d.inbox <- item:
		d.mu.Unlock()
		return true
	default:
		d.mu.Unlock()
	}
	// Inbox full: block. The worker cannot idle out while a backlog
	// exists, so this send always lands unless the session stops.
	select {
	case d.inbox <- item:
		return true
	case <-d.stop:
		return false
	}
}

func (d *userDispatcher) run() {
	defer close(d.done)
	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case <-d.stop:
			d.markExited()
			return
		case item := <-d.inbox:
			d.process(item)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)
		case <-timer.C:
			// Re-check under the enqueue lock so a racing send either
			// lands before the exit flag or is refused.
			d.mu.Lock()
			select {
			case item := <-d.inbox:
				d.mu.Unlock()
				d.process(item)
				timer.Reset(d.idle)
			default:
				d.exited = true
				d.mu.Unlock()
				d.logger.Debug("dispatcher idle, exiting", "user_key", d.userKey)
				return
			}
		}
	}
}

func (d *userDispatcher) process(item *Item) {
	ctx := context.Background()
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	item.Attempts++
	if !d.chain.Dispatch(ctx, d.logger, item.Event) {
		d.logger.Warn("no handler accepted event",
			"user_key", d.userKey, "kind", item.Event.Kind.String(), "item_id", item.ID)
	}
}

func (d *userDispatcher) markExited() {
	d.mu.Lock()
	d.exited = true
	d.mu.Unlock()
}

func (d *userDispatcher) isExited() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exited
}

// shutdown cancels the worker and drops anything still queued.
func (d *userDispatcher) shutdown() {
	d.mu.Lock()
	if !d.exited {
		d.exited = true
		close(d.stop)
	}
	d.mu.Unlock()
	<-d.done
}
