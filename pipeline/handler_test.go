package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yinjg1997/customer-agent/agent"
	"github.com/yinjg1997/customer-agent/channel/pdd"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentText struct {
	to      string
	content string
}

type moveCall struct {
	buyerUID string
	csUID    string
}

type fakePlatform struct {
	mu    sync.Mutex
	texts []sentText
	seats []pdd.CsSeat
	moves []moveCall
}

func (p *fakePlatform) SendText(ctx context.Context, toUID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, sentText{to: toUID, content: content})
	return nil
}

func (p *fakePlatform) AssignCsList(ctx context.Context) ([]pdd.CsSeat, error) {
	return p.seats, nil
}

func (p *fakePlatform) MoveConversation(ctx context.Context, buyerUID, csUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves = append(p.moves, moveCall{buyerUID: buyerUID, csUID: csUID})
	return nil
}

func (p *fakePlatform) sent() []sentText {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentText(nil), p.texts...)
}

func (p *fakePlatform) moved() []moveCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]moveCall(nil), p.moves...)
}

type fakeBot struct {
	mu      sync.Mutex
	answer  string
	delay   time.Duration
	queries []string
}

func (b *fakeBot) Reply(ctx context.Context, userKey, fromUID, query string) string {
	b.mu.Lock()
	b.queries = append(b.queries, query)
	b.mu.Unlock()
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	return b.answer
}

func (b *fakeBot) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.queries...)
}

func TestBusinessHoursWindow(t *testing.T) {
	platform := &fakePlatform{}
	h, err := NewBusinessHoursHandler(testLogger(), platform, "08:00", "23:00")
	require.NoError(t, err)

	at := func(clock string) func() time.Time {
		return func() time.Time {
			ts, _ := time.Parse("15:04:05", clock)
			return ts
		}
	}

	tests := []struct {
		clock   string
		outside bool
	}{
		{"02:00:00", true},
		{"07:59:59", true},
		{"08:00:00", false},
		{"15:30:00", false},
		{"23:00:00", false},
		{"23:00:01", true},
	}
	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			h.now = at(tt.clock)
			assert.Equal(t, tt.outside, h.Accepts(textEvent("u-1", "你好")))
		})
	}
}

func TestBusinessHoursReply(t *testing.T) {
	platform := &fakePlatform{}
	h, err := NewBusinessHoursHandler(testLogger(), platform, "08:00", "23:00")
	require.NoError(t, err)
	h.now = func() time.Time {
		ts, _ := time.Parse("15:04:05", "02:00:00")
		return ts
	}

	require.NoError(t, h.Handle(context.Background(), textEvent("U4", "你好")))
	sent := platform.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "U4", sent[0].to)
	assert.Contains(t, sent[0].content, "02:00:00")
	assert.Contains(t, sent[0].content, "08:00-23:00")
	assert.Contains(t, sent[0].content, "非营业时间")
}

func TestBusinessHoursRejectsBadClock(t *testing.T) {
	_, err := NewBusinessHoursHandler(testLogger(), &fakePlatform{}, "8am", "23:00")
	require.Error(t, err)
}

func TestTransferAccepts(t *testing.T) {
	h := NewTransferToHumanHandler(testLogger(), &fakePlatform{}, "cs_1_1", nil)

	assert.True(t, h.Accepts(textEvent("u-1", "我要转人工")))
	assert.True(t, h.Accepts(textEvent("u-1", "我要投诉你们")))
	assert.False(t, h.Accepts(textEvent("u-1", "发货了吗")))
	assert.False(t, h.Accepts(&pdd.Event{Kind: pdd.KindImage, Content: "转人工"}))
}

func TestTransferCustomKeywords(t *testing.T) {
	h := NewTransferToHumanHandler(testLogger(), &fakePlatform{}, "cs_1_1", []string{"找真人"})
	assert.True(t, h.Accepts(textEvent("u-1", "我要找真人")))
	assert.False(t, h.Accepts(textEvent("u-1", "转人工")))
}

func TestTransferPicksFirstOtherSeat(t *testing.T) {
	platform := &fakePlatform{seats: []pdd.CsSeat{
		{UID: "cs_1_1", Username: "自己"},
		{UID: "cs_1_2", Username: "同事"},
		{UID: "cs_1_3", Username: "备用"},
	}}
	h := NewTransferToHumanHandler(testLogger(), platform, "cs_1_1", nil)

	require.NoError(t, h.Handle(context.Background(), textEvent("U3", "转人工")))
	moved := platform.moved()
	require.Len(t, moved, 1)
	assert.Equal(t, "U3", moved[0].buyerUID)
	assert.Equal(t, "cs_1_2", moved[0].csUID)
	assert.Empty(t, platform.sent())
}

func TestTransferApologyWhenAlone(t *testing.T) {
	platform := &fakePlatform{seats: []pdd.CsSeat{{UID: "cs_1_1", Username: "自己"}}}
	h := NewTransferToHumanHandler(testLogger(), platform, "cs_1_1", nil)

	require.NoError(t, h.Handle(context.Background(), textEvent("U3", "转人工")))
	assert.Empty(t, platform.moved())
	sent := platform.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "抱歉，当前没有其他客服在线，请您稍后再试。", sent[0].content)
}

func TestAIReplyHandler(t *testing.T) {
	platform := &fakePlatform{}
	bot := &fakeBot{answer: "您好!"}
	h := NewAIReplyHandler(testLogger(), platform, bot, agent.Normalize, "shop-1")

	ev := textEvent("U1", "你好")
	require.True(t, h.Accepts(ev))
	require.NoError(t, h.Handle(context.Background(), ev))

	sent := platform.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sentText{to: "U1", content: "您好!"}, sent[0])

	calls := bot.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, `[{"type":"text","text":"你好"}]`, calls[0])
}

func TestAIReplyAcceptsSupportedKinds(t *testing.T) {
	h := NewAIReplyHandler(testLogger(), &fakePlatform{}, &fakeBot{}, agent.Normalize, "shop-1")

	for _, k := range []pdd.Kind{pdd.KindText, pdd.KindImage, pdd.KindVideo, pdd.KindEmotion, pdd.KindGoodsInquiry, pdd.KindGoodsSpec, pdd.KindOrderInfo} {
		assert.True(t, h.Accepts(&pdd.Event{Kind: k}), k.String())
	}
	assert.False(t, h.Accepts(&pdd.Event{Kind: pdd.KindGoodsCard}))
	assert.False(t, h.Accepts(&pdd.Event{Kind: pdd.KindWithdraw}))
}

func TestChainEarlyExit(t *testing.T) {
	platform := &fakePlatform{seats: []pdd.CsSeat{
		{UID: "cs_1_1"}, {UID: "cs_1_2"},
	}}
	bot := &fakeBot{answer: "AI回复"}
	transfer := NewTransferToHumanHandler(testLogger(), platform, "cs_1_1", nil)
	ai := NewAIReplyHandler(testLogger(), platform, bot, agent.Normalize, "shop-1")
	chain := Chain{transfer, ai}

	// Keyword text goes to the transfer handler only.
	require.True(t, chain.Dispatch(context.Background(), testLogger(), textEvent("U3", "转人工")))
	assert.Len(t, platform.moved(), 1)
	assert.Empty(t, bot.calls(), "ai handler must not run after transfer owned the event")

	// Plain text falls through to the AI handler.
	require.True(t, chain.Dispatch(context.Background(), testLogger(), textEvent("U3", "你好")))
	assert.Len(t, bot.calls(), 1)
}

func TestChainNoOwner(t *testing.T) {
	chain := Chain{NewAIReplyHandler(testLogger(), &fakePlatform{}, &fakeBot{}, agent.Normalize, "shop-1")}
	assert.False(t, chain.Dispatch(context.Background(), testLogger(), &pdd.Event{Kind: pdd.KindGoodsCard}))
}
