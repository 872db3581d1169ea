package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/store"
)

// Fallback reply texts, sent when the bot cannot produce an answer.
const (
	ReplyConversationFailed = "会话创建失败"
	ReplyProcessingFailed   = "消息处理失败"
	ReplyNoAnswer           = "未能获取到回复"
	ReplyTimeout            = "请求处理超时"
)

// DefaultBaseURL is the China-region Coze API origin.
const DefaultBaseURL = "https://api.coze.cn"

type cozeEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// CozeOption configures the bot.
type CozeOption func(*CozeBot)

// WithBaseURL points the bot at a different API origin.
func WithBaseURL(base string) CozeOption {
	return func(b *CozeBot) { b.base = strings.TrimRight(base, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) CozeOption {
	return func(b *CozeBot) { b.httpClient = hc }
}

// WithPollInterval changes the chat completion poll cadence.
func WithPollInterval(d time.Duration) CozeOption {
	return func(b *CozeBot) { b.pollInterval = d }
}

// WithTimeout bounds one reply round trip.
func WithTimeout(d time.Duration) CozeOption {
	return func(b *CozeBot) { b.timeout = d }
}

// CozeBot answers buyer messages via the Coze chat API. Conversations are
// keyed per buyer and persisted so history survives restarts.
type CozeBot struct {
	base         string
	token        string
	botID        string
	httpClient   *http.Client
	logger       *slog.Logger
	store        *store.Store
	pollInterval time.Duration
	timeout      time.Duration
}

// NewCozeBot builds the bot. The store keeps the buyer to conversation
// mapping.
func NewCozeBot(logger *slog.Logger, st *store.Store, token, botID string, opts ...CozeOption) *CozeBot {
	b := &CozeBot{
		base:         DefaultBaseURL,
		token:        token,
		botID:        botID,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
		store:        st,
		pollInterval: time.Second,
		timeout:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Reply produces the bot's answer for one normalized query. It never
// fails outward: fallback texts stand in when the API does.
func (b *CozeBot) Reply(ctx context.Context, userKey, fromUID, query string) string {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	conversationID, err := b.conversationFor(ctx, userKey)
	if err != nil {
		b.logger.Error("conversation create failed", "user_key", userKey, "error", err)
		return ReplyConversationFailed
	}

	answer, err := b.chat(ctx, conversationID, fromUID, query)
	if err != nil {
		b.logger.Error("chat failed", "user_key", userKey, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return ReplyTimeout
		}
		return ReplyProcessingFailed
	}
	if answer == "" {
		return ReplyNoAnswer
	}
	return answer
}

// conversationFor returns the buyer's conversation, creating and
// persisting one on first contact.
func (b *CozeBot) conversationFor(ctx context.Context, userKey string) (string, error) {
	conversationID, err := b.store.GetConversation(ctx, userKey)
	if err == nil {
		return conversationID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := b.call(ctx, http.MethodPost, "/v1/conversation/create", nil, nil, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("empty conversation id")
	}
	if err := b.store.UpsertConversation(ctx, userKey, created.ID); err != nil {
		return "", errors.Wrap(err, "persist conversation")
	}
	b.logger.Debug("conversation created", "user_key", userKey, "conversation_id", created.ID)
	return created.ID, nil
}

func (b *CozeBot) chat(ctx context.Context, conversationID, fromUID, query string) (string, error) {
	// Attach the query to the conversation history first.
	var message struct {
		ID string `json:"id"`
	}
	if err := b.call(ctx, http.MethodPost, "/v1/conversation/message/create",
		url.Values{"conversation_id": {conversationID}},
		map[string]any{
			"role":         "user",
			"content":      query,
			"content_type": "object_string",
		}, &message); err != nil {
		return "", errors.Wrap(err, "create message")
	}

	var chat struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := b.call(ctx, http.MethodPost, "/v3/chat",
		url.Values{"conversation_id": {conversationID}},
		map[string]any{
			"bot_id":            b.botID,
			"user_id":           fromUID,
			"auto_save_history": true,
			"additional_messages": []map[string]any{{
				"role":         "user",
				"content":      query,
				"content_type": "object_string",
			}},
		}, &chat); err != nil {
		return "", errors.Wrap(err, "create chat")
	}

	status := chat.Status
	for status == "in_progress" || status == "created" {
		if err := sleepCtx(ctx, b.pollInterval); err != nil {
			return "", err
		}
		var polled struct {
			Status string `json:"status"`
		}
		if err := b.call(ctx, http.MethodGet, "/v3/chat/retrieve",
			url.Values{"conversation_id": {conversationID}, "chat_id": {chat.ID}},
			nil, &polled); err != nil {
			return "", errors.Wrap(err, "poll chat")
		}
		status = polled.Status
	}
	if status != "completed" {
		return "", errors.Errorf("chat ended with status %q", status)
	}

	var messages []struct {
		Type        string `json:"type"`
		ContentType string `json:"content_type"`
		Content     string `json:"content"`
	}
	if err := b.call(ctx, http.MethodGet, "/v3/chat/message/list",
		url.Values{"conversation_id": {conversationID}, "chat_id": {chat.ID}},
		nil, &messages); err != nil {
		return "", errors.Wrap(err, "list messages")
	}
	for _, m := range messages {
		if m.Type == "answer" && m.ContentType == "text" {
			return m.Content, nil
		}
	}
	return "", nil
}

func (b *CozeBot) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := b.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s: status %d", path, resp.StatusCode)
	}
	var envelope cozeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if envelope.Code != 0 {
		return errors.Errorf("%s: code=%d msg=%q", path, envelope.Code, envelope.Msg)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Wrap(err, "decode data")
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
