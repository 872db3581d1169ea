package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/internal/profile"
	"github.com/yinjg1997/customer-agent/store"
)

// PDDConnector builds real platform clients and websocket transports
// for the pdd channel.
type PDDConnector struct {
	logger       *slog.Logger
	store        *store.Store
	profile      *profile.Profile
	credentialer pdd.Credentialer
}

// NewPDDConnector wires the connector. credentialer may be nil; clients
// then run without session refresh and surface expiry to the caller.
func NewPDDConnector(logger *slog.Logger, st *store.Store, p *profile.Profile, credentialer pdd.Credentialer) *PDDConnector {
	return &PDDConnector{
		logger:       logger,
		store:        st,
		profile:      p,
		credentialer: credentialer,
	}
}

// Client builds the HTTP client for one account from its stored cookie
// bundle, with the retry policy from the profile and a refresher bound
// to the account row.
func (c *PDDConnector) Client(ctx context.Context, account *store.Account) (Platform, error) {
	cookies, err := pdd.ParseCredentials(account.Credentials)
	if err != nil {
		return nil, errors.Wrapf(err, "account %s/%s", account.ShopID, account.UserID)
	}

	opts := []pdd.ClientOption{
		pdd.WithRetryPolicy(pdd.RetryPolicy{
			MaxAttempts: c.profile.RetryMaxAttempts,
			BaseDelay:   time.Duration(c.profile.RetryBaseMs) * time.Millisecond,
			Factor:      c.profile.RetryFactor,
		}),
	}
	if c.credentialer != nil {
		refresher := pdd.NewAccountRefresher(c.logger, c.store, c.credentialer,
			account.Channel, account.ShopID, account.UserID)
		opts = append(opts, pdd.WithRefresher(refresher))
	}
	return pdd.NewClient(c.logger, cookies, opts...), nil
}

// Dial opens the websocket session with the keepalive settings from the
// profile.
func (c *PDDConnector) Dial(ctx context.Context, token string) (Transport, error) {
	return pdd.Dial(ctx, c.logger, token, pdd.TransportOptions{
		PingInterval: time.Duration(c.profile.PingSeconds) * time.Second,
		PongTimeout:  time.Duration(c.profile.PongTimeout) * time.Second,
	})
}
