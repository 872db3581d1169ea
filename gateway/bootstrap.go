package gateway

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/store"
)

// RegisterAccount runs a full platform login and persists the seat it
// belongs to: shop row, account row, credentials and browser profile
// dir. The account lands online and eligible for Start. Registering a
// known seat again refreshes its stored credentials instead of failing.
func (s *Supervisor) RegisterAccount(ctx context.Context, credentialer pdd.Credentialer, channel, username, password string) (*store.Account, error) {
	result, err := credentialer.Login(ctx, username, password)
	if err != nil {
		return nil, errors.Wrap(err, "platform login")
	}
	encoded, err := result.Cookies.Encode()
	if err != nil {
		return nil, err
	}

	account := &store.Account{
		Channel:     channel,
		Username:    username,
		Password:    password,
		Credentials: encoded,
		ProfileDir:  result.ProfileDir,
		Presence:    store.PresenceOnline,
	}

	// The fresh cookies identify the seat and its mall.
	client, err := s.connector.Client(ctx, account)
	if err != nil {
		return nil, err
	}
	user, err := client.GetUserInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch seat identity")
	}
	shop, err := client.GetShopInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch shop profile")
	}

	if err := s.store.UpsertShop(ctx, &store.Shop{
		Channel: channel,
		ShopID:  shop.MallID,
		Name:    shop.MallName,
		Logo:    shop.MallLogo,
	}); err != nil {
		return nil, errors.Wrap(err, "persist shop")
	}

	account.ShopID = shop.MallID
	account.UserID = user.ID
	err = s.store.CreateAccount(ctx, account)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		if err := s.refreshRegistration(ctx, account); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errors.Wrap(err, "persist account")
	}

	s.logger.Info("account registered",
		"shop_id", account.ShopID, "shop_name", shop.MallName, "user_id", account.UserID)
	return s.store.GetAccount(ctx, channel, account.ShopID, account.UserID)
}

func (s *Supervisor) refreshRegistration(ctx context.Context, account *store.Account) error {
	update := &store.UpdateAccount{
		Channel:  account.Channel,
		ShopID:   account.ShopID,
		UserID:   account.UserID,
		Username: &account.Username,
		Password: &account.Password,
	}
	if account.ProfileDir != "" {
		update.ProfileDir = &account.ProfileDir
	}
	if err := s.store.UpdateAccount(ctx, update); err != nil {
		return errors.Wrap(err, "update account profile")
	}
	if err := s.store.UpdateAccountCredentials(ctx, account.Channel, account.ShopID, account.UserID, account.Credentials); err != nil {
		return errors.Wrap(err, "update account credentials")
	}
	if err := s.store.UpdateAccountPresence(ctx, account.Channel, account.ShopID, account.UserID, store.PresenceOnline); err != nil {
		return errors.Wrap(err, "update account presence")
	}
	return nil
}
