package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/store"
)

func (d *DB) CreateAccount(ctx context.Context, create *store.Account) error {
	existing, err := d.GetAccount(ctx, create.Channel, create.ShopID, create.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil {
		return store.ErrDuplicate
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO account (channel, shop_id, user_id, username, password, credentials, profile_dir, presence, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var presence any
	if create.Presence != store.PresenceUnverified {
		presence = int64(create.Presence)
	}
	result, err := d.db.ExecContext(ctx, query,
		create.Channel,
		create.ShopID,
		create.UserID,
		create.Username,
		create.Password,
		create.Credentials,
		create.ProfileDir,
		presence,
		now,
		now,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create account")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	create.ID = id
	create.CreatedTs = now
	create.UpdatedTs = now
	return nil
}

func (d *DB) GetAccount(ctx context.Context, channel, shopID, userID string) (*store.Account, error) {
	query := `
		SELECT id, channel, shop_id, user_id, username, password, credentials, profile_dir, presence, created_ts, updated_ts
		FROM account
		WHERE channel = ? AND shop_id = ? AND user_id = ?
	`
	account, err := scanAccount(d.db.QueryRowContext(ctx, query, channel, shopID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get account")
	}
	return account, nil
}

func (d *DB) ListAccounts(ctx context.Context, find *store.FindAccount) ([]*store.Account, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find != nil {
		if v := find.Channel; v != nil {
			where, args = append(where, "channel = ?"), append(args, *v)
		}
		if v := find.ShopID; v != nil {
			where, args = append(where, "shop_id = ?"), append(args, *v)
		}
		if v := find.UserID; v != nil {
			where, args = append(where, "user_id = ?"), append(args, *v)
		}
		if v := find.Presence; v != nil {
			if *v == store.PresenceUnverified {
				where = append(where, "presence IS NULL")
			} else {
				where, args = append(where, "presence = ?"), append(args, int64(*v))
			}
		}
	}

	query := `
		SELECT id, channel, shop_id, user_id, username, password, credentials, profile_dir, presence, created_ts, updated_ts
		FROM account
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list accounts")
	}
	defer rows.Close()

	list := []*store.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan account")
		}
		list = append(list, account)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate accounts")
	}
	return list, nil
}

func (d *DB) UpdateAccount(ctx context.Context, update *store.UpdateAccount) error {
	set, args := []string{}, []any{}
	if v := update.Username; v != nil {
		set, args = append(set, "username = ?"), append(args, *v)
	}
	if v := update.Password; v != nil {
		set, args = append(set, "password = ?"), append(args, *v)
	}
	if v := update.ProfileDir; v != nil {
		set, args = append(set, "profile_dir = ?"), append(args, *v)
	}
	if len(set) == 0 {
		return nil
	}
	set, args = append(set, "updated_ts = ?"), append(args, time.Now().Unix())
	args = append(args, update.Channel, update.ShopID, update.UserID)

	query := `UPDATE account SET ` + strings.Join(set, ", ") + ` WHERE channel = ? AND shop_id = ? AND user_id = ?`
	return d.execAccountUpdate(ctx, query, args...)
}

func (d *DB) UpdateAccountCredentials(ctx context.Context, channel, shopID, userID, credentials string) error {
	query := `UPDATE account SET credentials = ?, updated_ts = ? WHERE channel = ? AND shop_id = ? AND user_id = ?`
	return d.execAccountUpdate(ctx, query, credentials, time.Now().Unix(), channel, shopID, userID)
}

func (d *DB) UpdateAccountPresence(ctx context.Context, channel, shopID, userID string, presence store.Presence) error {
	var value any
	if presence != store.PresenceUnverified {
		value = int64(presence)
	}
	query := `UPDATE account SET presence = ?, updated_ts = ? WHERE channel = ? AND shop_id = ? AND user_id = ?`
	return d.execAccountUpdate(ctx, query, value, time.Now().Unix(), channel, shopID, userID)
}

func (d *DB) DeleteAccount(ctx context.Context, channel, shopID, userID string) error {
	query := `DELETE FROM account WHERE channel = ? AND shop_id = ? AND user_id = ?`
	return d.execAccountUpdate(ctx, query, channel, shopID, userID)
}

func (d *DB) execAccountUpdate(ctx context.Context, query string, args ...any) error {
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update account")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get affected rows")
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*store.Account, error) {
	var account store.Account
	var presence sql.NullInt64
	if err := row.Scan(
		&account.ID,
		&account.Channel,
		&account.ShopID,
		&account.UserID,
		&account.Username,
		&account.Password,
		&account.Credentials,
		&account.ProfileDir,
		&presence,
		&account.CreatedTs,
		&account.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if presence.Valid {
		account.Presence = store.Presence(presence.Int64)
	} else {
		account.Presence = store.PresenceUnverified
	}
	return &account, nil
}
