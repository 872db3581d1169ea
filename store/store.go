// Package store provides persistence for channel accounts, shops,
// agent conversations and transfer keywords.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/internal/profile"
)

// Sentinel errors shared by all drivers.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Driver is an interface for database access.
type Driver interface {
	Migrate(ctx context.Context) error
	Close() error

	AccountStore
	ShopStore
	ConversationStore
	KeywordStore
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Account operations.

func (s *Store) CreateAccount(ctx context.Context, create *Account) error {
	return s.driver.CreateAccount(ctx, create)
}

func (s *Store) GetAccount(ctx context.Context, channel, shopID, userID string) (*Account, error) {
	return s.driver.GetAccount(ctx, channel, shopID, userID)
}

func (s *Store) ListAccounts(ctx context.Context, find *FindAccount) ([]*Account, error) {
	return s.driver.ListAccounts(ctx, find)
}

func (s *Store) UpdateAccount(ctx context.Context, update *UpdateAccount) error {
	return s.driver.UpdateAccount(ctx, update)
}

func (s *Store) UpdateAccountCredentials(ctx context.Context, channel, shopID, userID, credentials string) error {
	return s.driver.UpdateAccountCredentials(ctx, channel, shopID, userID, credentials)
}

func (s *Store) UpdateAccountPresence(ctx context.Context, channel, shopID, userID string, presence Presence) error {
	return s.driver.UpdateAccountPresence(ctx, channel, shopID, userID, presence)
}

// DeleteAccount removes the account row. When the account's shop has no
// remaining accounts the shop row is removed as well; the cascade decision
// stays here so callers never delete half the pair.
func (s *Store) DeleteAccount(ctx context.Context, channel, shopID, userID string) error {
	if err := s.driver.DeleteAccount(ctx, channel, shopID, userID); err != nil {
		return err
	}
	remaining, err := s.driver.ListAccounts(ctx, &FindAccount{Channel: &channel, ShopID: &shopID})
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := s.driver.DeleteShop(ctx, channel, shopID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// Shop operations.

func (s *Store) UpsertShop(ctx context.Context, upsert *Shop) error {
	return s.driver.UpsertShop(ctx, upsert)
}

func (s *Store) GetShop(ctx context.Context, channel, shopID string) (*Shop, error) {
	return s.driver.GetShop(ctx, channel, shopID)
}

func (s *Store) ListShops(ctx context.Context, channel string) ([]*Shop, error) {
	return s.driver.ListShops(ctx, channel)
}

// Conversation operations.

func (s *Store) UpsertConversation(ctx context.Context, userKey, conversationID string) error {
	return s.driver.UpsertConversation(ctx, userKey, conversationID)
}

func (s *Store) GetConversation(ctx context.Context, userKey string) (string, error) {
	return s.driver.GetConversation(ctx, userKey)
}

func (s *Store) DeleteConversation(ctx context.Context, userKey string) error {
	return s.driver.DeleteConversation(ctx, userKey)
}

// Keyword operations.

func (s *Store) AddKeyword(ctx context.Context, keyword string) error {
	return s.driver.AddKeyword(ctx, keyword)
}

func (s *Store) ListKeywords(ctx context.Context) ([]string, error) {
	return s.driver.ListKeywords(ctx)
}

func (s *Store) DeleteKeyword(ctx context.Context, keyword string) error {
	return s.driver.DeleteKeyword(ctx, keyword)
}
