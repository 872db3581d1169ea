package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yinjg1997/customer-agent/channel/pdd"
)

// recordingHandler accepts queued buyer kinds and records the order in
// which invocations start.
type recordingHandler struct {
	mu      sync.Mutex
	starts  []string
	delay   map[string]time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (h *recordingHandler) Accepts(ev *pdd.Event) bool {
	return ev.Kind.Route() == pdd.RouteQueued
}

func (h *recordingHandler) Handle(ctx context.Context, ev *pdd.Event) error {
	now := h.active.Add(1)
	for {
		max := h.maxSeen.Load()
		if now <= max || h.maxSeen.CompareAndSwap(max, now) {
			break
		}
	}
	h.mu.Lock()
	h.starts = append(h.starts, ev.FromUID+":"+ev.Content)
	h.mu.Unlock()

	if d, ok := h.delay[ev.Content]; ok {
		time.Sleep(d)
	}
	h.active.Add(-1)
	return nil
}

func (h *recordingHandler) order() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.starts...)
}

func startConsumer(t *testing.T, chain Chain, platform Platform, opts ConsumerOptions) (*Queue, *Consumer) {
	t.Helper()
	q := NewQueue(100)
	c := NewConsumer(testLogger(), q, chain, platform, opts)
	go c.Run(context.Background())
	t.Cleanup(func() {
		q.Close()
		c.Stop()
	})
	return q, c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWithdrawIsImmediate(t *testing.T) {
	platform := &fakePlatform{}
	handler := &recordingHandler{}
	q, c := startConsumer(t, Chain{handler}, platform, ConsumerOptions{})

	ev := &pdd.Event{Kind: pdd.KindWithdraw, FromUID: "U2", Content: "w"}
	_, err := q.Put(context.Background(), ev)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return len(platform.sent()) == 1 })
	sent := platform.sent()
	assert.Equal(t, sentText{to: "U2", content: "[玫瑰]"}, sent[0])
	assert.Equal(t, 0, c.DispatcherCount(), "immediate events never create dispatchers")
	assert.Empty(t, handler.order())
}

func TestTransferEventAcksOriginSeat(t *testing.T) {
	platform := &fakePlatform{}
	q, _ := startConsumer(t, Chain{&recordingHandler{}}, platform, ConsumerOptions{})

	ev := &pdd.Event{
		Kind:     pdd.KindTransfer,
		FromUID:  "U7",
		Transfer: &pdd.TransferInfo{FromUID: "U7", ToUID: "cs-2"},
	}
	_, err := q.Put(context.Background(), ev)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return len(platform.sent()) == 1 })
	assert.Equal(t, sentText{to: "U7", content: "[玫瑰]"}, platform.sent()[0])
}

func TestUnknownIsDropped(t *testing.T) {
	platform := &fakePlatform{}
	handler := &recordingHandler{}
	q, c := startConsumer(t, Chain{handler}, platform, ConsumerOptions{})

	_, err := q.Put(context.Background(), &pdd.Event{Kind: pdd.KindUnknown, FromUID: "U1"})
	require.NoError(t, err)
	_, err = q.Put(context.Background(), textEvent("U1", "你好"))
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return len(handler.order()) == 1 })
	assert.Equal(t, []string{"U1:你好"}, handler.order())
	assert.Equal(t, 1, c.DispatcherCount())
}

func TestPerUserFIFOUnderConcurrency(t *testing.T) {
	platform := &fakePlatform{}
	handler := &recordingHandler{delay: map[string]time.Duration{"e1": 200 * time.Millisecond}}
	q, _ := startConsumer(t, Chain{handler}, platform, ConsumerOptions{})

	ctx := context.Background()
	for _, content := range []string{"e1", "e2", "e3", "e4", "e5"} {
		_, err := q.Put(ctx, textEvent("U5", content))
		require.NoError(t, err)
	}
	// A second user enqueued during U5's slow first event runs in
	// parallel instead of waiting behind it.
	_, err := q.Put(ctx, textEvent("U6", "hi"))
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return len(handler.order()) == 6 })

	var u5 []string
	sawU6Early := false
	for i, start := range handler.order() {
		switch start {
		case "U6:hi":
			if i < 5 {
				sawU6Early = true
			}
		default:
			u5 = append(u5, start)
		}
	}
	assert.Equal(t, []string{"U5:e1", "U5:e2", "U5:e3", "U5:e4", "U5:e5"}, u5)
	assert.True(t, sawU6Early, "second user must not wait for the first user's backlog")
}

func TestConcurrencyBound(t *testing.T) {
	platform := &fakePlatform{}
	handler := &recordingHandler{delay: map[string]time.Duration{"slow": 100 * time.Millisecond}}
	q, _ := startConsumer(t, Chain{handler}, platform, ConsumerOptions{MaxConcurrent: 2})

	ctx := context.Background()
	for _, uid := range []string{"U1", "U2", "U3", "U4", "U5"} {
		_, err := q.Put(ctx, textEvent(uid, "slow"))
		require.NoError(t, err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(handler.order()) == 5 })
	assert.LessOrEqual(t, handler.maxSeen.Load(), int32(2))
}

func TestDispatcherIdleReap(t *testing.T) {
	platform := &fakePlatform{}
	handler := &recordingHandler{}
	q, c := startConsumer(t, Chain{handler}, platform, ConsumerOptions{
		DispatcherIdle: 30 * time.Millisecond,
		ReapInterval:   20 * time.Millisecond,
	})

	_, err := q.Put(context.Background(), textEvent("U1", "你好"))
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool { return len(handler.order()) == 1 })

	waitFor(t, time.Second, func() bool { return c.DispatcherCount() == 0 })

	// A later event recreates the dispatcher.
	_, err = q.Put(context.Background(), textEvent("U1", "还在吗"))
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool { return len(handler.order()) == 2 })
	assert.Equal(t, []string{"U1:你好", "U1:还在吗"}, handler.order())
}

func TestConsumerStopIsIdempotent(t *testing.T) {
	platform := &fakePlatform{}
	q := NewQueue(10)
	c := NewConsumer(testLogger(), q, Chain{&recordingHandler{}}, platform, ConsumerOptions{})
	go c.Run(context.Background())

	c.Stop()
	c.Stop()
}

func TestConsumerStopsOnQueueClose(t *testing.T) {
	platform := &fakePlatform{}
	handler := &recordingHandler{}
	q := NewQueue(10)
	c := NewConsumer(testLogger(), q, Chain{handler}, platform, ConsumerOptions{})
	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	_, err := q.Put(context.Background(), textEvent("U1", "你好"))
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool { return len(handler.order()) == 1 })

	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after queue close")
	}
}
