package pdd

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/store"
)

// LoginResult is what an interactive login produces.
type LoginResult struct {
	Cookies Credentials
	// ProfileDir is the browser profile the login left behind. Later
	// refreshes reuse it to renew cookies without re-entering the password.
	ProfileDir string
}

// Credentialer performs platform logins. Implementations drive an external
// browser automation service; the gateway only depends on this contract.
type Credentialer interface {
	// Login runs a full credential login.
	Login(ctx context.Context, username, password string) (*LoginResult, error)

	// SilentRefresh renews cookies from a saved browser profile without
	// the password.
	SilentRefresh(ctx context.Context, profileDir string) (Credentials, error)
}

// ParseCredentials decodes the stored cookie bundle.
func ParseCredentials(raw string) (Credentials, error) {
	if raw == "" {
		return Credentials{}, nil
	}
	var cookies Credentials
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		return nil, errors.Wrap(err, "parse credentials")
	}
	return cookies, nil
}

// Encode serializes the bundle for storage.
func (c Credentials) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "encode credentials")
	}
	return string(raw), nil
}

// AccountRefresher renews one account's credentials and persists the
// result. Silent profile refresh is tried first, then a full login.
type AccountRefresher struct {
	logger  *slog.Logger
	store   *store.Store
	creds   Credentialer
	channel string
	shopID  string
	userID  string
}

// NewAccountRefresher builds the refresher for one account identity.
func NewAccountRefresher(logger *slog.Logger, st *store.Store, creds Credentialer, channel, shopID, userID string) *AccountRefresher {
	return &AccountRefresher{
		logger:  logger,
		store:   st,
		creds:   creds,
		channel: channel,
		shopID:  shopID,
		userID:  userID,
	}
}

// Refresh implements Refresher.
func (r *AccountRefresher) Refresh(ctx context.Context) (Credentials, error) {
	account, err := r.store.GetAccount(ctx, r.channel, r.shopID, r.userID)
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}

	if account.ProfileDir != "" {
		cookies, err := r.creds.SilentRefresh(ctx, account.ProfileDir)
		if err == nil && len(cookies) > 0 {
			if err := r.persist(ctx, cookies); err != nil {
				return nil, err
			}
			r.logger.Info("credentials refreshed", "account", account.Username)
			return cookies, nil
		}
		r.logger.Warn("silent refresh failed, falling back to full login",
			"account", account.Username, "error", err)
	}

	if account.Password == "" {
		return nil, errors.New("password missing, cannot run full login")
	}
	result, err := r.creds.Login(ctx, account.Username, account.Password)
	if err != nil {
		return nil, errors.Wrap(err, "full login")
	}
	if err := r.persist(ctx, result.Cookies); err != nil {
		return nil, err
	}
	if result.ProfileDir != "" && result.ProfileDir != account.ProfileDir {
		profileDir := result.ProfileDir
		if err := r.store.UpdateAccount(ctx, &store.UpdateAccount{
			Channel:    r.channel,
			ShopID:     r.shopID,
			UserID:     r.userID,
			ProfileDir: &profileDir,
		}); err != nil {
			r.logger.Warn("failed to persist profile dir", "error", err)
		}
	}
	r.logger.Info("full login succeeded", "account", account.Username)
	return result.Cookies, nil
}

func (r *AccountRefresher) persist(ctx context.Context, cookies Credentials) error {
	encoded, err := cookies.Encode()
	if err != nil {
		return err
	}
	return errors.Wrap(
		r.store.UpdateAccountCredentials(ctx, r.channel, r.shopID, r.userID, encoded),
		"persist credentials")
}
