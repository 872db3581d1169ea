package pdd

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// DefaultWSURL is the merchant chat websocket origin.
const DefaultWSURL = "wss://m-ws.pinduoduo.com/"

// wsVersion is the web client build tag the gateway expects.
const wsVersion = "202506091557"

// CloseReason says why a transport session ended.
type CloseReason int

const (
	CloseNormal CloseReason = iota
	ClosePeer
	CloseError
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case ClosePeer:
		return "peer_closed"
	default:
		return "error"
	}
}

// TransportOptions tunes one websocket session.
type TransportOptions struct {
	URL          string
	PingInterval time.Duration
	PongTimeout  time.Duration
	Dialer       *websocket.Dialer
}

func (o *TransportOptions) normalize() {
	if o.URL == "" {
		o.URL = DefaultWSURL
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 20 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Transport is one live websocket session. Frames are decoded on the read
// loop and delivered in arrival order on Events.
type Transport struct {
	conn   *websocket.Conn
	logger *slog.Logger
	opts   TransportOptions

	events chan *Event

	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	reason CloseReason
	err    error
}

// Dial connects and authenticates with the chat gateway, then starts the
// read and keepalive loops.
func Dial(ctx context.Context, logger *slog.Logger, accessToken string, opts TransportOptions) (*Transport, error) {
	opts.normalize()

	query := url.Values{
		"access_token": {accessToken},
		"role":         {"mall_cs"},
		"client":       {"web"},
		"version":      {wsVersion},
	}
	conn, resp, err := opts.Dialer.DialContext(ctx, opts.URL+"?"+query.Encode(), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial chat gateway: status=%d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial chat gateway")
	}

	t := &Transport{
		conn:   conn,
		logger: logger,
		opts:   opts,
		events: make(chan *Event, 64),
		done:   make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(opts.PingInterval + opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PingInterval + opts.PongTimeout))
	})

	go t.pingLoop()
	go t.readLoop()
	return t, nil
}

// Events delivers decoded frames in arrival order. The channel closes when
// the session ends; check Err afterwards.
func (t *Transport) Events() <-chan *Event {
	return t.events
}

// Close ends the session. Safe to call more than once.
func (t *Transport) Close() error {
	t.shutdown(CloseNormal, nil)
	return nil
}

// Err returns the close reason, and the error when the session failed.
func (t *Transport) Err() (CloseReason, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason, t.err
}

func (t *Transport) shutdown(reason CloseReason, err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.reason = reason
		t.err = err
		t.mu.Unlock()

		close(t.done)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.conn.Close()
	})
}

func (t *Transport) pingLoop() {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.opts.PongTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.shutdown(CloseError, errors.Wrap(err, "ping"))
				return
			}
		}
	}
}

func (t *Transport) readLoop() {
	defer close(t.events)
	for {
		_, frame, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				// Local close already recorded the reason.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.shutdown(ClosePeer, nil)
				} else {
					t.shutdown(CloseError, errors.Wrap(err, "read frame"))
				}
			}
			return
		}

		ev, err := Decode(frame)
		if err != nil {
			// Malformed frames are logged and skipped, never fatal.
			t.logger.Error("undecodable frame", "error", err)
			continue
		}
		select {
		case t.events <- ev:
		case <-t.done:
			return
		}
	}
}
