// Package store provides persistence for realmgate.
//
// # Overview
//
// The store holds everything the concrete authentication policy needs that
// does not live in the gateway process: accounts, the realm directory, and
// an audit trail of login decisions.
//
// # Interfaces
//
// Store is split into narrow interfaces so consumers depend only on what
// they use:
//
//   - AccountStore: CreateAccount, GetAccount, ListAccounts, SetAccountBanned, TouchLastLogin
//   - RealmStore: UpsertRealm, GetRealm, ListRealms, DeleteRealm
//   - AuditStore: RecordLoginAttempt, ListLoginAttempts
//
// # Implementations
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo). The schema is
// created on open and column migrations run afterwards, so opening an
// existing database is always safe. Usernames are unique and compared
// case-insensitively.
//
//	s, err := store.NewSQLiteStore("/var/lib/realmgate/realmgate.db")
//
// MockStore is an in-memory implementation for tests. Setting Err makes
// every call fail, which exercises error paths in callers.
//
// # Errors
//
// ErrNotFound and ErrDuplicate are returned (possibly wrapped) for missing
// and conflicting entities. Use errors.Is to check them.
package store
