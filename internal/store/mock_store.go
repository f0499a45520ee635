// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account // keyed by lower-cased username
	realms   map[uint8]*Realm
	attempts []*LoginAttempt

	// Err, when set, is returned from every read and write.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts: make(map[string]*Account),
		realms:   make(map[uint8]*Realm),
	}
}

func accountKey(username string) string {
	return strings.ToLower(username)
}

func (m *MockStore) CreateAccount(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	key := accountKey(account.Username)
	if _, exists := m.accounts[key]; exists {
		return fmt.Errorf("account %q: %w", account.Username, ErrDuplicate)
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	cp := *account
	m.accounts[key] = &cp
	return nil
}

func (m *MockStore) GetAccount(_ context.Context, username string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	a, ok := m.accounts[accountKey(username)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockStore) ListAccounts(_ context.Context) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return accountKey(out[i].Username) < accountKey(out[j].Username) })
	return out, nil
}

func (m *MockStore) SetAccountBanned(_ context.Context, username string, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	a, ok := m.accounts[accountKey(username)]
	if !ok {
		return ErrNotFound
	}
	a.Banned = banned
	return nil
}

func (m *MockStore) TouchLastLogin(_ context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	for _, a := range m.accounts {
		if a.ID == accountID {
			t := at
			a.LastLoginAt = &t
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockStore) UpsertRealm(_ context.Context, realm *Realm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	realm.UpdatedAt = time.Now().UTC()
	cp := *realm
	m.realms[realm.ID] = &cp
	return nil
}

func (m *MockStore) GetRealm(_ context.Context, id uint8) (*Realm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	r, ok := m.realms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockStore) ListRealms(_ context.Context) ([]*Realm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	out := make([]*Realm, 0, len(m.realms))
	for _, r := range m.realms {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) DeleteRealm(_ context.Context, id uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.realms[id]; !ok {
		return ErrNotFound
	}
	delete(m.realms, id)
	return nil
}

func (m *MockStore) RecordLoginAttempt(_ context.Context, attempt *LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	cp := *attempt
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *MockStore) ListLoginAttempts(_ context.Context, limit int) ([]*LoginAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	if limit <= 0 {
		limit = 100
	}
	out := make([]*LoginAttempt, 0, min(limit, len(m.attempts)))
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.attempts[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStore) Close() error {
	return nil
}

// SetErr swaps the injected error under the store lock.
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}
