package gateway

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/store"
)

// SetPresence publishes a presence code to the platform, then persists
// it. The platform call comes first: a platform failure leaves storage
// untouched, a storage failure after a successful platform call is
// surfaced so the caller can report the degraded write.
func (s *Supervisor) SetPresence(ctx context.Context, channel, shopID, userID string, presence store.Presence) error {
	switch presence {
	case store.PresenceRest, store.PresenceOnline, store.PresenceOffline:
	default:
		return errors.Errorf("presence %d is not settable", presence)
	}

	account, err := s.store.GetAccount(ctx, channel, shopID, userID)
	if err != nil {
		return errors.Wrap(err, "load account")
	}
	client, err := s.connector.Client(ctx, account)
	if err != nil {
		return err
	}

	if err := client.SetCsStatus(ctx, strconv.Itoa(int(presence))); err != nil {
		return errors.Wrap(err, "publish presence")
	}
	if err := s.store.UpdateAccountPresence(ctx, channel, shopID, userID, presence); err != nil {
		return errors.Wrap(err, "persist presence after platform accepted it")
	}

	s.logger.Info("presence updated",
		"shop_id", shopID, "user_id", userID, "presence", presence.String())
	return nil
}
