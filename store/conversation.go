package store

import "context"

// ConversationStore maps a user key (shop_id:from_uid) to the agent-side
// conversation id. At most one conversation per user key; created lazily on
// the first agent call and never garbage-collected here.
type ConversationStore interface {
	UpsertConversation(ctx context.Context, userKey, conversationID string) error
	GetConversation(ctx context.Context, userKey string) (string, error)
	DeleteConversation(ctx context.Context, userKey string) error
}
