// ABOUTME: Store interface and data types for realmgate persistence
// ABOUTME: Defines accounts, the realm directory, and the login audit trail

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key (username, realm ID) already exists
var ErrDuplicate = errors.New("already exists")

// Account is a login identity the gateway authenticates against
type Account struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt
	Subscription uint32 // bit flags granted to the account
	CDKey        uint16 // 0 means the account is not bound to a key
	Banned       bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// Realm is one entry of the realm/server directory clients may be routed to
type Realm struct {
	ID             uint8
	Name           string
	Host           string
	Port           int
	AgeLimit       uint8
	PKFlag         bool
	CurrentPlayers int
	MaxPlayers     int
	Online         bool
	UpdatedAt      time.Time
}

// Full reports whether the realm has no free player slots.
// A MaxPlayers of zero means no limit.
func (r *Realm) Full() bool {
	return r.MaxPlayers > 0 && r.CurrentPlayers >= r.MaxPlayers
}

// Login attempt outcomes recorded in the audit trail
const (
	ReasonOK             = "ok"
	ReasonUnknownAccount = "unknown_account"
	ReasonBadPassword    = "bad_password"
	ReasonBanned         = "banned"
	ReasonSubscription   = "subscription"
	ReasonCDKey          = "cd_key"
	ReasonLockedOut      = "locked_out"
	ReasonStoreError     = "store_error"
)

// LoginAttempt is one audited ValidateLogin decision
type LoginAttempt struct {
	ID         string
	Username   string
	RemoteAddr string
	Success    bool
	Reason     string
	CreatedAt  time.Time
}

// AccountStore manages login identities
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, username string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	SetAccountBanned(ctx context.Context, username string, banned bool) error
	TouchLastLogin(ctx context.Context, accountID string, at time.Time) error
}

// RealmStore manages the realm directory
type RealmStore interface {
	UpsertRealm(ctx context.Context, realm *Realm) error
	GetRealm(ctx context.Context, id uint8) (*Realm, error)
	ListRealms(ctx context.Context) ([]*Realm, error)
	DeleteRealm(ctx context.Context, id uint8) error
}

// AuditStore records login decisions
type AuditStore interface {
	RecordLoginAttempt(ctx context.Context, attempt *LoginAttempt) error
	ListLoginAttempts(ctx context.Context, limit int) ([]*LoginAttempt, error)
}

// Store is the full persistence surface
type Store interface {
	AccountStore
	RealmStore
	AuditStore
	Close() error
}
