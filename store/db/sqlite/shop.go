package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/store"
)

func (d *DB) UpsertShop(ctx context.Context, upsert *store.Shop) error {
	query := `
		INSERT INTO shop (channel, shop_id, name, logo, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel, shop_id) DO UPDATE SET
			name = excluded.name,
			logo = excluded.logo,
			description = excluded.description
	`
	if _, err := d.db.ExecContext(ctx, query,
		upsert.Channel,
		upsert.ShopID,
		upsert.Name,
		upsert.Logo,
		upsert.Description,
	); err != nil {
		return errors.Wrap(err, "failed to upsert shop")
	}
	return nil
}

func (d *DB) GetShop(ctx context.Context, channel, shopID string) (*store.Shop, error) {
	query := `
		SELECT id, channel, shop_id, name, logo, description
		FROM shop
		WHERE channel = ? AND shop_id = ?
	`
	var shop store.Shop
	if err := d.db.QueryRowContext(ctx, query, channel, shopID).Scan(
		&shop.ID,
		&shop.Channel,
		&shop.ShopID,
		&shop.Name,
		&shop.Logo,
		&shop.Description,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get shop")
	}
	return &shop, nil
}

func (d *DB) ListShops(ctx context.Context, channel string) ([]*store.Shop, error) {
	query := `
		SELECT id, channel, shop_id, name, logo, description
		FROM shop
		WHERE channel = ?
		ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query, channel)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list shops")
	}
	defer rows.Close()

	list := []*store.Shop{}
	for rows.Next() {
		var shop store.Shop
		if err := rows.Scan(
			&shop.ID,
			&shop.Channel,
			&shop.ShopID,
			&shop.Name,
			&shop.Logo,
			&shop.Description,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan shop")
		}
		list = append(list, &shop)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate shops")
	}
	return list, nil
}

func (d *DB) DeleteShop(ctx context.Context, channel, shopID string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM shop WHERE channel = ? AND shop_id = ?`, channel, shopID)
	if err != nil {
		return errors.Wrap(err, "failed to delete shop")
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
