package pdd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the merchant API origin.
const DefaultBaseURL = "https://mms.pinduoduo.com"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

// Credentials is the cookie bundle attached to every merchant API call.
type Credentials map[string]string

// Refresher obtains a fresh credential bundle after the platform reports
// the current one expired. Implementations first try a silent refresh from
// the saved browser profile and fall back to a full login.
type Refresher interface {
	Refresh(ctx context.Context) (Credentials, error)
}

// RetryPolicy controls backoff on retryable failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
}

// DefaultRetryPolicy mirrors the platform client defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2.0}
}

// delay is exponential backoff plus 10-30% jitter.
func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		backoff *= p.Factor
	}
	jitter := (0.1 + 0.2*rand.Float64()) * backoff
	return time.Duration(backoff + jitter)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API origin. Tests use this
// with httptest servers.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.base = strings.TrimRight(base, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the default backoff settings.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithRefresher installs the credential refresher used on session expiry.
func WithRefresher(r Refresher) ClientOption {
	return func(c *Client) { c.refresher = r }
}

// WithRateLimit caps outbound calls per second.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// Client talks to the merchant HTTP API on behalf of one account.
// It is safe for concurrent use.
type Client struct {
	base       string
	httpClient *http.Client
	logger     *slog.Logger
	retry      RetryPolicy
	refresher  Refresher
	limiter    *rate.Limiter

	group singleflight.Group

	mu      sync.RWMutex
	cookies Credentials
}

// NewClient builds a client for one account's credential bundle.
func NewClient(logger *slog.Logger, cookies Credentials, opts ...ClientOption) *Client {
	c := &Client{
		base:       DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		retry:      DefaultRetryPolicy(),
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		cookies:    cookies,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredentials replaces the cookie bundle.
func (c *Client) SetCredentials(cookies Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = cookies
}

// CredentialsSnapshot returns a copy of the current bundle.
func (c *Client) CredentialsSnapshot() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(Credentials, len(c.cookies))
	for k, v := range c.cookies {
		snapshot[k] = v
	}
	return snapshot
}

type apiResponse struct {
	Success     bool            `json:"success"`
	ErrorCode   int             `json:"error_code"`
	ErrorMsg    string          `json:"error_msg"`
	ErrorMsgAlt string          `json:"errorMsg"`
	Token       string          `json:"token"`
	Result      json.RawMessage `json:"result"`
}

func (r *apiResponse) message() string {
	if r.ErrorMsg != "" {
		return r.ErrorMsg
	}
	return r.ErrorMsgAlt
}

// post runs one API call with retries, backoff and a single credential
// refresh on session expiry.
func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) (*apiResponse, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}

	refreshed := false
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.retry.delay(attempt-1)); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, status, err := c.doOnce(ctx, path, payload, contentType)
		if err != nil {
			// Transport failures are retryable.
			lastErr = err
			c.logger.Warn("api call failed", "path", path, "attempt", attempt, "error", err)
			continue
		}

		if status != http.StatusOK {
			lastErr = &RemoteError{Endpoint: path, Status: status}
			if !retryableStatus(status) {
				return nil, lastErr
			}
			c.logger.Warn("api call returned retryable status", "path", path, "status", status, "attempt", attempt)
			continue
		}

		if rerr := remoteError(path, status, resp); rerr != nil {
			if rerr.IsSessionExpired() {
				if refreshed || c.refresher == nil {
					return nil, errors.Wrapf(ErrSessionExpired, "%s", path)
				}
				refreshed = true
				if err := c.refreshCredentials(ctx); err != nil {
					return nil, errors.Wrap(err, "refresh credentials")
				}
				// Fresh bundle, replay the call without burning an attempt.
				attempt--
				continue
			}
			return nil, rerr
		}
		return resp, nil
	}

	if re, ok := lastErr.(*RemoteError); ok && re.Status == http.StatusTooManyRequests {
		return nil, errors.Wrapf(ErrRateLimited, "%s", path)
	}
	return nil, errors.Wrapf(lastErr, "%s: retries exhausted", path)
}

func (c *Client) doOnce(ctx context.Context, path string, payload []byte, contentType string) (*apiResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	c.mu.RLock()
	pairs := make([]string, 0, len(c.cookies))
	for k, v := range c.cookies {
		pairs = append(pairs, k+"="+v)
	}
	c.mu.RUnlock()
	sort.Strings(pairs)
	if len(pairs) > 0 {
		req.Header.Set("Cookie", strings.Join(pairs, "; "))
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return nil, httpResp.StatusCode, nil
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, httpResp.StatusCode, errors.Wrap(err, "decode response")
	}
	return &resp, httpResp.StatusCode, nil
}

func (c *Client) refreshCredentials(ctx context.Context) error {
	// One refresh at a time per client; concurrent expired calls share it.
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		cookies, err := c.refresher.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		c.SetCredentials(cookies)
		return nil, nil
	})
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*apiResponse, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	return c.post(ctx, path, bytes.NewReader(encoded), "application/json")
}

func retryableStatus(status int) bool {
	if status >= 500 {
		return true
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

func remoteError(path string, status int, resp *apiResponse) *RemoteError {
	code, msg := resp.ErrorCode, resp.message()
	if code == 0 && len(resp.Result) > 0 {
		// Some endpoints nest the error inside result.
		var nested struct {
			ErrorCode int    `json:"error_code"`
			Error     string `json:"error"`
			ErrorMsg  string `json:"error_msg"`
		}
		if json.Unmarshal(resp.Result, &nested) == nil && nested.ErrorCode == sessionExpiredCode {
			code = nested.ErrorCode
			if msg = nested.Error; msg == "" {
				msg = nested.ErrorMsg
			}
		}
	}
	if code == sessionExpiredCode {
		return &RemoteError{Endpoint: path, Status: status, ErrorCode: code, ErrorMsg: msg}
	}
	if resp.Success || resp.Token != "" {
		return nil
	}
	// getToken replies put the token inside result without a success flag.
	if resp.ErrorCode == 0 && resp.message() == "" && len(resp.Result) > 0 {
		return nil
	}
	return &RemoteError{
		Endpoint:  path,
		Status:    status,
		ErrorCode: resp.ErrorCode,
		ErrorMsg:  resp.message(),
	}
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

// requestID is the millisecond epoch tag the send endpoints expect.
func requestID() int64 {
	return time.Now().UnixMilli()
}

// GetToken fetches the websocket access token.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	form := url.Values{"version": {"3"}}
	resp, err := c.post(ctx, "/chats/getToken", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", err
	}
	if resp.Token != "" {
		return resp.Token, nil
	}
	var result struct {
		Token string `json:"token"`
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err == nil && result.Token != "" {
			return result.Token, nil
		}
	}
	return "", errors.Errorf("getToken: no token in response")
}

// SendText sends a plain text reply to a buyer.
func (c *Client) SendText(ctx context.Context, toUID, content string) error {
	body := map[string]any{
		"data": map[string]any{
			"cmd":        "send_message",
			"request_id": requestID(),
			"message": map[string]any{
				"to":           map[string]any{"role": "user", "uid": toUID},
				"from":         map[string]any{"role": "mall_cs"},
				"content":      content,
				"msg_id":       nil,
				"type":         0,
				"is_aut":       0,
				"manual_reply": 1,
			},
		},
		"client": "WEB",
	}
	resp, err := c.postJSON(ctx, "/plateau/chat/send_message", body)
	if err != nil {
		return err
	}
	var result struct {
		ErrorCode int    `json:"error_code"`
		Error     string `json:"error"`
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err == nil && result.ErrorCode == 10002 {
			return &RemoteError{
				Endpoint:  "/plateau/chat/send_message",
				Status:    http.StatusOK,
				ErrorCode: result.ErrorCode,
				ErrorMsg:  result.Error,
			}
		}
	}
	return nil
}

// SendImage sends an image reply by URL.
func (c *Client) SendImage(ctx context.Context, toUID, imageURL string) error {
	body := map[string]any{
		"data": map[string]any{
			"cmd":        "send_message",
			"request_id": requestID(),
			"message": map[string]any{
				"to":           map[string]any{"role": "user", "uid": toUID},
				"from":         map[string]any{"role": "mall_cs"},
				"content":      imageURL,
				"msg_id":       nil,
				"chat_type":    "cs",
				"type":         1,
				"is_aut":       0,
				"manual_reply": 1,
			},
		},
		"client": "WEB",
	}
	_, err := c.postJSON(ctx, "/plateau/chat/send_message", body)
	return err
}

// SendGoodsCard pushes a product card into the conversation.
func (c *Client) SendGoodsCard(ctx context.Context, toUID, goodsID string) error {
	body := map[string]any{
		"uid":      toUID,
		"goods_id": goodsID,
		"biz_type": 3,
	}
	_, err := c.postJSON(ctx, "/plateau/message/send/mallGoodsCard", body)
	return err
}

// SetCsStatus publishes the seat's presence code.
func (c *Client) SetCsStatus(ctx context.Context, status string) error {
	body := map[string]any{
		"data": map[string]any{
			"cmd":    "set_csstatus",
			"status": status,
		},
		"client": "WEB",
	}
	_, err := c.postJSON(ctx, "/plateau/chat/set_csstatus", body)
	return err
}

// CsSeat describes one entry of the assignable seat list.
type CsSeat struct {
	UID      string
	Username string `json:"username"`
}

// AssignCsList returns the mall's assignable seats sorted by uid.
func (c *Client) AssignCsList(ctx context.Context) ([]CsSeat, error) {
	resp, err := c.postJSON(ctx, "/latitude/assign/getAssignCsList", map[string]any{"wechatCheck": true})
	if err != nil {
		return nil, err
	}
	var result struct {
		CsList map[string]CsSeat `json:"csList"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.Wrap(err, "decode cs list")
	}
	seats := make([]CsSeat, 0, len(result.CsList))
	for uid, seat := range result.CsList {
		seat.UID = uid
		seats = append(seats, seat)
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i].UID < seats[j].UID })
	return seats, nil
}

// MoveConversation hands the buyer's conversation to another seat.
func (c *Client) MoveConversation(ctx context.Context, buyerUID, csUID string) error {
	body := map[string]any{
		"data": map[string]any{
			"cmd":        "move_conversation",
			"request_id": requestID(),
			"conversation": map[string]any{
				"csid":    csUID,
				"uid":     buyerUID,
				"need_wx": false,
				"remark":  "无原因直接转移",
			},
		},
		"client": "WEB",
	}
	_, err := c.postJSON(ctx, "/plateau/chat/move_conversation", body)
	return err
}

// ShopInfo is the mall profile behind the logged-in account.
type ShopInfo struct {
	MallID   string `json:"-"`
	MallName string `json:"mallName"`
	MallLogo string `json:"mallLogo"`
}

// GetShopInfo fetches the mall profile.
func (c *Client) GetShopInfo(ctx context.Context) (*ShopInfo, error) {
	resp, err := c.postJSON(ctx, "/earth/api/merchant/queryMerchantInfoByMallId", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result struct {
		MallID   flexString `json:"mallId"`
		MallName string     `json:"mallName"`
		MallLogo string     `json:"mallLogo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.Wrap(err, "decode shop info")
	}
	return &ShopInfo{
		MallID:   string(result.MallID),
		MallName: result.MallName,
		MallLogo: result.MallLogo,
	}, nil
}

// UserInfo is the logged-in seat's identity.
type UserInfo struct {
	ID       string
	Username string
	MallID   string
}

// GetUserInfo fetches the seat identity behind the credential bundle.
func (c *Client) GetUserInfo(ctx context.Context) (*UserInfo, error) {
	resp, err := c.post(ctx, "/janus/api/new/userinfo", strings.NewReader(""), "application/json")
	if err != nil {
		return nil, err
	}
	var result struct {
		ID       flexString `json:"id"`
		Username string     `json:"username"`
		MallID   flexString `json:"mall_id"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.Wrap(err, "decode user info")
	}
	return &UserInfo{
		ID:       string(result.ID),
		Username: result.Username,
		MallID:   string(result.MallID),
	}, nil
}

// SeatUID is the identity a seat uses on the assignable list.
func SeatUID(shopID, userID string) string {
	return fmt.Sprintf("cs_%s_%s", shopID, userID)
}
