package store

import "context"

// Presence is the platform-visible availability status of a seat.
// The numeric codes are the platform's own: 0 rest, 1 online, 3 offline.
// Unverified means the account has never completed a login.
type Presence int

const (
	PresenceUnverified Presence = -1
	PresenceRest       Presence = 0
	PresenceOnline     Presence = 1
	PresenceOffline    Presence = 3
)

// String returns the human-readable presence name.
func (p Presence) String() string {
	switch p {
	case PresenceRest:
		return "rest"
	case PresenceOnline:
		return "online"
	case PresenceOffline:
		return "offline"
	default:
		return "unverified"
	}
}

// IsValid checks the presence code is one the platform understands.
func (p Presence) IsValid() bool {
	switch p {
	case PresenceUnverified, PresenceRest, PresenceOnline, PresenceOffline:
		return true
	default:
		return false
	}
}

// Account is one merchant customer-service seat.
type Account struct {
	ID          int64
	Channel     string
	ShopID      string
	UserID      string
	Username    string
	Password    string
	Credentials string // opaque cookie bundle, JSON
	ProfileDir  string // browser profile dir used for silent credential refresh
	Presence    Presence
	CreatedTs   int64
	UpdatedTs   int64
}

// FindAccount filters ListAccounts. Nil fields match everything.
type FindAccount struct {
	Channel  *string
	ShopID   *string
	UserID   *string
	Presence *Presence
}

// UpdateAccount carries partial profile updates. Nil fields are untouched.
type UpdateAccount struct {
	Channel    string
	ShopID     string
	UserID     string
	Username   *string
	Password   *string
	ProfileDir *string
}

// AccountStore is the account persistence contract.
type AccountStore interface {
	CreateAccount(ctx context.Context, create *Account) error
	GetAccount(ctx context.Context, channel, shopID, userID string) (*Account, error)
	ListAccounts(ctx context.Context, find *FindAccount) ([]*Account, error)
	UpdateAccount(ctx context.Context, update *UpdateAccount) error
	UpdateAccountCredentials(ctx context.Context, channel, shopID, userID, credentials string) error
	UpdateAccountPresence(ctx context.Context, channel, shopID, userID string, presence Presence) error
	DeleteAccount(ctx context.Context, channel, shopID, userID string) error
}
