package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/internal/profile"
	"github.com/yinjg1997/customer-agent/store"
	"github.com/yinjg1997/customer-agent/store/db/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "test", Data: t.TempDir(), Driver: "sqlite"}
	p.DSN = filepath.Join(p.Data, "agent_test.db")
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { driver.Close() })
	return store.New(driver, p)
}

// cozeServer fakes the chat API: one conversation, immediate completion,
// a single text answer.
type cozeServer struct {
	answer        string
	conversations atomic.Int32
	chats         atomic.Int32
	failCreate    bool
	chatStatus    string
}

func (s *cozeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/conversation/create", func(w http.ResponseWriter, r *http.Request) {
		if s.failCreate {
			w.Write([]byte(`{"code": 700012006, "msg": "access token invalid"}`))
			return
		}
		s.conversations.Add(1)
		w.Write([]byte(`{"code": 0, "data": {"id": "conv-1"}}`))
	})
	mux.HandleFunc("/v1/conversation/message/create", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["content_type"] != "object_string" || body["role"] != "user" {
			w.Write([]byte(`{"code": 4000, "msg": "bad message"}`))
			return
		}
		w.Write([]byte(`{"code": 0, "data": {"id": "msg-1"}}`))
	})
	mux.HandleFunc("/v3/chat", func(w http.ResponseWriter, r *http.Request) {
		s.chats.Add(1)
		status := s.chatStatus
		if status == "" {
			status = "completed"
		}
		w.Write([]byte(`{"code": 0, "data": {"id": "chat-1", "status": "` + status + `"}}`))
	})
	mux.HandleFunc("/v3/chat/retrieve", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 0, "data": {"id": "chat-1", "status": "completed"}}`))
	})
	mux.HandleFunc("/v3/chat/message/list", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"code": 0,
			"data": []map[string]string{
				{"type": "verbose", "content_type": "text", "content": "{}"},
				{"type": "answer", "content_type": "text", "content": s.answer},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newTestBot(t *testing.T, st *store.Store, srv *cozeServer, opts ...CozeOption) *CozeBot {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	base := []CozeOption{WithBaseURL(ts.URL), WithPollInterval(time.Millisecond), WithTimeout(2 * time.Second)}
	return NewCozeBot(testLogger(), st, "token", "bot-1", append(base, opts...)...)
}

func TestReplyCreatesAndReusesConversation(t *testing.T) {
	st := newTestStore(t)
	srv := &cozeServer{answer: "您好，有什么可以帮您？"}
	bot := newTestBot(t, st, srv)

	ctx := context.Background()
	got := bot.Reply(ctx, "shop-1:u-1", "u-1", `[{"type":"text","text":"在吗"}]`)
	assert.Equal(t, "您好，有什么可以帮您？", got)
	assert.Equal(t, int32(1), srv.conversations.Load())

	conversationID, err := st.GetConversation(ctx, "shop-1:u-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conversationID)

	// Second turn reuses the stored conversation.
	got = bot.Reply(ctx, "shop-1:u-1", "u-1", `[{"type":"text","text":"发货了吗"}]`)
	assert.Equal(t, "您好，有什么可以帮您？", got)
	assert.Equal(t, int32(1), srv.conversations.Load())
	assert.Equal(t, int32(2), srv.chats.Load())
}

func TestReplyConversationCreateFails(t *testing.T) {
	st := newTestStore(t)
	srv := &cozeServer{failCreate: true}
	bot := newTestBot(t, st, srv)

	got := bot.Reply(context.Background(), "shop-1:u-1", "u-1", `[{"type":"text","text":"在吗"}]`)
	assert.Equal(t, ReplyConversationFailed, got)

	_, err := st.GetConversation(context.Background(), "shop-1:u-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReplyPollsUntilComplete(t *testing.T) {
	st := newTestStore(t)
	srv := &cozeServer{answer: "好的", chatStatus: "in_progress"}
	bot := newTestBot(t, st, srv)

	got := bot.Reply(context.Background(), "shop-1:u-2", "u-2", `[{"type":"text","text":"改地址"}]`)
	assert.Equal(t, "好的", got)
}

func TestReplyNoAnswer(t *testing.T) {
	st := newTestStore(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/conversation/create":
			w.Write([]byte(`{"code": 0, "data": {"id": "conv-1"}}`))
		case "/v1/conversation/message/create":
			w.Write([]byte(`{"code": 0, "data": {"id": "msg-1"}}`))
		case "/v3/chat":
			w.Write([]byte(`{"code": 0, "data": {"id": "chat-1", "status": "completed"}}`))
		case "/v3/chat/message/list":
			w.Write([]byte(`{"code": 0, "data": [{"type": "follow_up", "content_type": "text", "content": "还有什么问题？"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	bot := NewCozeBot(testLogger(), st, "token", "bot-1", WithBaseURL(ts.URL), WithTimeout(2*time.Second))

	got := bot.Reply(context.Background(), "shop-1:u-3", "u-3", `[{"type":"text","text":"在吗"}]`)
	assert.Equal(t, ReplyNoAnswer, got)
}

func TestReplyChatFails(t *testing.T) {
	st := newTestStore(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/conversation/create":
			w.Write([]byte(`{"code": 0, "data": {"id": "conv-1"}}`))
		case "/v1/conversation/message/create":
			w.Write([]byte(`{"code": 0, "data": {"id": "msg-1"}}`))
		case "/v3/chat":
			w.Write([]byte(`{"code": 0, "data": {"id": "chat-1", "status": "failed"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	bot := NewCozeBot(testLogger(), st, "token", "bot-1", WithBaseURL(ts.URL), WithTimeout(2*time.Second))

	got := bot.Reply(context.Background(), "shop-1:u-4", "u-4", `[{"type":"text","text":"在吗"}]`)
	assert.Equal(t, ReplyProcessingFailed, got)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		ev   *pdd.Event
		want string
	}{
		{
			"text",
			&pdd.Event{Kind: pdd.KindText, Content: "发货了吗"},
			`[{"type":"text","text":"发货了吗"}]`,
		},
		{
			"emotion",
			&pdd.Event{Kind: pdd.KindEmotion, Content: "微笑"},
			`[{"type":"text","text":"表情: 微笑"}]`,
		},
		{
			"image",
			&pdd.Event{Kind: pdd.KindImage, Content: "https://img.example.com/a.jpg"},
			`[{"type":"text","text":"图片: https://img.example.com/a.jpg"}]`,
		},
		{
			"video",
			&pdd.Event{Kind: pdd.KindVideo, Content: "https://v.example.com/a.mp4"},
			`[{"type":"text","text":"视频: https://v.example.com/a.mp4"}]`,
		},
		{
			"goods spec",
			&pdd.Event{Kind: pdd.KindGoodsSpec, Goods: &pdd.GoodsInfo{Name: "马甲", Price: "59.9", Spec: "XL"}},
			`[{"type":"text","text":"商品：马甲,商品价格：59.9,商品规格：XL"}]`,
		},
		{
			"order",
			&pdd.Event{Kind: pdd.KindOrderInfo, Order: &pdd.OrderInfo{OrderID: "240101-123", GoodsName: "马甲"}},
			`[{"type":"text","text":"订单：240101-123，商品：马甲"}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.ev))
		})
	}
}
