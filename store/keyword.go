package store

import "context"

// KeywordStore holds the transfer-to-human trigger keywords.
type KeywordStore interface {
	AddKeyword(ctx context.Context, keyword string) error
	ListKeywords(ctx context.Context) ([]string, error)
	DeleteKeyword(ctx context.Context, keyword string) error
}
