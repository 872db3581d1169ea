// Package gateway supervises per-account pipelines: it builds the
// platform client and transport for an account, wires the handler chain
// and consumer, and enforces at most one live session per seat.
package gateway

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/store"
)

var (
	// ErrAlreadyRunning is returned when a session for the seat exists.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotOnline is returned by Start for accounts whose stored
	// presence is not online.
	ErrNotOnline = errors.New("account presence is not online")
)

// Platform is the per-account client surface a session needs.
// *pdd.Client satisfies it.
type Platform interface {
	SendText(ctx context.Context, toUID, content string) error
	AssignCsList(ctx context.Context) ([]pdd.CsSeat, error)
	MoveConversation(ctx context.Context, buyerUID, csUID string) error
	GetToken(ctx context.Context) (string, error)
	SetCsStatus(ctx context.Context, status string) error
	GetShopInfo(ctx context.Context) (*pdd.ShopInfo, error)
	GetUserInfo(ctx context.Context) (*pdd.UserInfo, error)
}

// Transport is a live event feed for one session. *pdd.Transport
// satisfies it.
type Transport interface {
	Events() <-chan *pdd.Event
	Close() error
	Err() (pdd.CloseReason, error)
}

// Connector builds the account-scoped client and dials the chat
// gateway. The production implementation lives in connector.go; tests
// substitute fakes.
type Connector interface {
	Client(ctx context.Context, account *store.Account) (Platform, error)
	Dial(ctx context.Context, token string) (Transport, error)
}

// Replier produces the AI answer for one normalized query.
type Replier interface {
	Reply(ctx context.Context, userKey, fromUID, query string) string
}

func sessionKey(channel, shopID, userID string) string {
	return channel + "/" + shopID + "/" + userID
}
