package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/internal/metrics"
)

// DefaultMaxConcurrent caps handler-chain invocations running in
// parallel across a session's dispatchers.
const DefaultMaxConcurrent = 10

// DefaultReapInterval is the cadence of the idle dispatcher sweep.
const DefaultReapInterval = time.Minute

// withdrawAck is the fixed reply for withdraw and transfer events.
const withdrawAck = "[玫瑰]"

// ConsumerOptions tunes one account consumer.
type ConsumerOptions struct {
	Channel        string
	MaxConcurrent  int
	DispatcherIdle time.Duration
	ReapInterval   time.Duration
}

func (o *ConsumerOptions) normalize() {
	if o.Channel == "" {
		o.Channel = "pdd"
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.DispatcherIdle <= 0 {
		o.DispatcherIdle = DefaultDispatcherIdle
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = DefaultReapInterval
	}
}

// Consumer drains one account queue. Queued buyer events fan out to
// per-user dispatchers; control events are handled inline.
type Consumer struct {
	logger   *slog.Logger
	queue    *Queue
	chain    Chain
	platform Platform
	opts     ConsumerOptions
	sem      *semaphore.Weighted

	mu          sync.Mutex
	dispatchers map[string]*userDispatcher

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewConsumer wires a consumer to its queue, handler chain and the
// platform client used for inline acks.
func NewConsumer(logger *slog.Logger, queue *Queue, chain Chain, platform Platform, opts ConsumerOptions) *Consumer {
	opts.normalize()
	return &Consumer{
		logger:      logger,
		queue:       queue,
		chain:       chain,
		platform:    platform,
		opts:        opts,
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		dispatchers: make(map[string]*userDispatcher),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run pulls items until the queue closes or ctx is canceled. It returns
// after all dispatchers have been stopped.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	defer c.stopAllDispatchers()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.reapLoop(ctx)
	go func() {
		select {
		case <-c.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		item, err := c.queue.Get(ctx)
		if err != nil {
			return
		}
		if item == nil {
			// Queue closed and drained.
			return
		}
		c.route(ctx, item)
	}
}

func (c *Consumer) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reap()
		}
	}
}

// Stop ends the run loop. Idempotent; blocks until Run returned.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
	<-c.done
}

// route applies the routing policy to one item.
func (c *Consumer) route(ctx context.Context, item *Item) {
	ev := item.Event
	metrics.EventsReceived.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind.Route() {
	case pdd.RouteImmediate:
		c.handleImmediate(ctx, ev)
	case pdd.RouteQueued:
		c.dispatch(item)
	default:
		metrics.EventsDropped.Inc()
		c.logger.Debug("event dropped", "kind", ev.Kind.String(), "msg_id", ev.MsgID)
	}
}

func (c *Consumer) dispatch(item *Item) {
	userKey := c.opts.Channel + ":" + item.Event.FromUID

	c.mu.Lock()
	d, ok := c.dispatchers[userKey]
	if !ok || d.isExited() {
		d = newUserDispatcher(userKey, c.logger, c.chain, c.sem, c.opts.DispatcherIdle, c.queue.Len()+64)
		c.dispatchers[userKey] = d
		metrics.ActiveDispatchers.Set(float64(len(c.dispatchers)))
	}
	c.mu.Unlock()

	if !d.enqueue(item) {
		// Lost the race with an idle exit; one retry with a fresh worker.
		c.mu.Lock()
		d = newUserDispatcher(userKey, c.logger, c.chain, c.sem, c.opts.DispatcherIdle, c.queue.Len()+64)
		c.dispatchers[userKey] = d
		metrics.ActiveDispatchers.Set(float64(len(c.dispatchers)))
		c.mu.Unlock()
		d.enqueue(item)
	}
}

// handleImmediate runs the small inline work control events need.
func (c *Consumer) handleImmediate(ctx context.Context, ev *pdd.Event) {
	switch ev.Kind {
	case pdd.KindAuth:
		if ev.Auth != nil && ev.Auth.Status == "ok" {
			c.logger.Info("gateway auth ok", "uid", ev.Auth.UID)
		} else {
			c.logger.Warn("gateway auth failed", "raw", string(ev.Raw))
		}
	case pdd.KindWithdraw, pdd.KindTransfer:
		uid := ev.FromUID
		if ev.Kind == pdd.KindTransfer && ev.Transfer != nil {
			uid = ev.Transfer.FromUID
		}
		if uid == "" {
			return
		}
		if err := c.platform.SendText(ctx, uid, withdrawAck); err != nil {
			c.logger.Error("immediate ack failed", "kind", ev.Kind.String(), "from_uid", uid, "error", err)
			return
		}
		metrics.RepliesSent.Inc()
	case pdd.KindMallCs:
		c.logger.Debug("colleague seat message", "from_uid", ev.FromUID, "content", ev.Content)
	case pdd.KindSystemStatus:
		c.logger.Debug("system status", "content", ev.Content)
	default:
		c.logger.Info("system event", "kind", ev.Kind.String(), "content", ev.Content)
	}
}

// reap drops dispatchers whose workers have idled out.
func (c *Consumer) reap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for userKey, d := range c.dispatchers {
		if d.isExited() {
			delete(c.dispatchers, userKey)
			c.logger.Debug("dispatcher reaped", "user_key", userKey)
		}
	}
	metrics.ActiveDispatchers.Set(float64(len(c.dispatchers)))
}

func (c *Consumer) stopAllDispatchers() {
	c.mu.Lock()
	dispatchers := make([]*userDispatcher, 0, len(c.dispatchers))
	for _, d := range c.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	c.dispatchers = make(map[string]*userDispatcher)
	c.mu.Unlock()

	for _, d := range dispatchers {
		d.shutdown()
	}
	metrics.ActiveDispatchers.Set(0)
}

// DispatcherCount reports live per-user workers, for the admin surface.
func (c *Consumer) DispatcherCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dispatchers)
}
