package store

import "context"

// Shop is a merchant storefront; it owns zero or more accounts.
type Shop struct {
	ID          int64
	Channel     string
	ShopID      string
	Name        string
	Logo        string
	Description string
}

// ShopStore is the shop persistence contract.
type ShopStore interface {
	UpsertShop(ctx context.Context, upsert *Shop) error
	GetShop(ctx context.Context, channel, shopID string) (*Shop, error)
	ListShops(ctx context.Context, channel string) ([]*Shop, error)
	DeleteShop(ctx context.Context, channel, shopID string) error
}
