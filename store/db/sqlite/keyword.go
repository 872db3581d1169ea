package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/store"
)

func (d *DB) AddKeyword(ctx context.Context, keyword string) error {
	query := `INSERT INTO keyword (keyword) VALUES (?) ON CONFLICT(keyword) DO NOTHING`
	if _, err := d.db.ExecContext(ctx, query, keyword); err != nil {
		return errors.Wrap(err, "failed to add keyword")
	}
	return nil
}

func (d *DB) ListKeywords(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT keyword FROM keyword ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keywords")
	}
	defer rows.Close()

	list := []string{}
	for rows.Next() {
		var keyword string
		if err := rows.Scan(&keyword); err != nil {
			return nil, errors.Wrap(err, "failed to scan keyword")
		}
		list = append(list, keyword)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate keywords")
	}
	return list, nil
}

func (d *DB) DeleteKeyword(ctx context.Context, keyword string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM keyword WHERE keyword = ?`, keyword)
	if err != nil {
		return errors.Wrap(err, "failed to delete keyword")
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
