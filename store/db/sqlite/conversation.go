package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/store"
)

func (d *DB) UpsertConversation(ctx context.Context, userKey, conversationID string) error {
	query := `
		INSERT INTO conversation (user_key, conversation_id, created_ts)
		VALUES (?, ?, ?)
		ON CONFLICT(user_key) DO UPDATE SET conversation_id = excluded.conversation_id
	`
	if _, err := d.db.ExecContext(ctx, query, userKey, conversationID, time.Now().Unix()); err != nil {
		return errors.Wrap(err, "failed to upsert conversation")
	}
	return nil
}

func (d *DB) GetConversation(ctx context.Context, userKey string) (string, error) {
	var conversationID string
	err := d.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM conversation WHERE user_key = ?`, userKey,
	).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", errors.Wrap(err, "failed to get conversation")
	}
	return conversationID, nil
}

func (d *DB) DeleteConversation(ctx context.Context, userKey string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM conversation WHERE user_key = ?`, userKey); err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}
	return nil
}
