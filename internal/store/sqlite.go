// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists accounts, realms, and login attempts with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would otherwise get its own database
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			subscription  INTEGER NOT NULL DEFAULT 0,
			cd_key        INTEGER NOT NULL DEFAULT 0,
			banned        INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			last_login_at TEXT
		);

		CREATE TABLE IF NOT EXISTS realms (
			id              INTEGER PRIMARY KEY,
			name            TEXT NOT NULL,
			host            TEXT NOT NULL,
			port            INTEGER NOT NULL,
			current_players INTEGER NOT NULL DEFAULT 0,
			max_players     INTEGER NOT NULL DEFAULT 0,
			online          INTEGER NOT NULL DEFAULT 0,
			updated_at      TEXT NOT NULL,

			CHECK (id BETWEEN 0 AND 255),
			CHECK (port BETWEEN 1 AND 65535)
		);

		CREATE TABLE IF NOT EXISTS login_attempts (
			id          TEXT PRIMARY KEY,
			username    TEXT NOT NULL,
			remote_addr TEXT NOT NULL,
			success     INTEGER NOT NULL,
			reason      TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_login_attempts_created ON login_attempts(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_login_attempts_username ON login_attempts(username);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the first schema revision.
// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('realms') WHERE name = 'age_limit'`,
			apply:  `ALTER TABLE realms ADD COLUMN age_limit INTEGER NOT NULL DEFAULT 0`,
			column: "age_limit",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('realms') WHERE name = 'pk_flag'`,
			apply:  `ALTER TABLE realms ADD COLUMN pk_flag INTEGER NOT NULL DEFAULT 0`,
			column: "pk_flag",
		},
	}

	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRow(m.check).Scan(&exists); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to realms: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "realms")
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY violation
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeLayout keeps a fixed fraction width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateAccount inserts a new account. The ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, password_hash, subscription, cd_key, banned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.Username, account.PasswordHash, account.Subscription,
		account.CDKey, boolToInt(account.Banned), formatTime(account.CreatedAt))
	if isConstraintViolation(err) {
		return fmt.Errorf("account %q: %w", account.Username, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var (
		a         Account
		banned    int
		createdAt string
		lastLogin sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Subscription, &a.CDKey, &banned, &createdAt, &lastLogin); err != nil {
		return nil, err
	}
	a.Banned = banned != 0

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastLogin.Valid {
		t, err := parseTime(lastLogin.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_login_at: %w", err)
		}
		a.LastLoginAt = &t
	}
	return &a, nil
}

const accountColumns = `id, username, password_hash, subscription, cd_key, banned, created_at, last_login_at`

// GetAccount looks an account up by username, case-insensitively
func (s *SQLiteStore) GetAccount(ctx context.Context, username string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by username
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAccountBanned flips the banned flag for username
func (s *SQLiteStore) SetAccountBanned(ctx context.Context, username string, banned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET banned = ? WHERE username = ?`, boolToInt(banned), username)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful login time
func (s *SQLiteStore) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_login_at = ? WHERE id = ?`, formatTime(at), accountID)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertRealm inserts or replaces a realm directory entry
func (s *SQLiteStore) UpsertRealm(ctx context.Context, realm *Realm) error {
	realm.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO realms (id, name, host, port, age_limit, pk_flag, current_players, max_players, online, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			host = excluded.host,
			port = excluded.port,
			age_limit = excluded.age_limit,
			pk_flag = excluded.pk_flag,
			current_players = excluded.current_players,
			max_players = excluded.max_players,
			online = excluded.online,
			updated_at = excluded.updated_at
	`, realm.ID, realm.Name, realm.Host, realm.Port, realm.AgeLimit, boolToInt(realm.PKFlag),
		realm.CurrentPlayers, realm.MaxPlayers, boolToInt(realm.Online), formatTime(realm.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting realm %d: %w", realm.ID, err)
	}
	return nil
}

func scanRealm(row interface{ Scan(...any) error }) (*Realm, error) {
	var (
		r         Realm
		pk        int
		online    int
		updatedAt string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Host, &r.Port, &r.AgeLimit, &pk, &r.CurrentPlayers, &r.MaxPlayers, &online, &updatedAt); err != nil {
		return nil, err
	}
	r.PKFlag = pk != 0
	r.Online = online != 0

	var err error
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &r, nil
}

const realmColumns = `id, name, host, port, age_limit, pk_flag, current_players, max_players, online, updated_at`

// GetRealm looks a realm up by ID
func (s *SQLiteStore) GetRealm(ctx context.Context, id uint8) (*Realm, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+realmColumns+` FROM realms WHERE id = ?`, id)
	r, err := scanRealm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying realm: %w", err)
	}
	return r, nil
}

// ListRealms returns the whole directory ordered by ID
func (s *SQLiteStore) ListRealms(ctx context.Context) ([]*Realm, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+realmColumns+` FROM realms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying realms: %w", err)
	}
	defer rows.Close()

	var out []*Realm
	for rows.Next() {
		r, err := scanRealm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning realm: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRealm removes a realm from the directory
func (s *SQLiteStore) DeleteRealm(ctx context.Context, id uint8) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM realms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting realm: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoginAttempt appends an entry to the login audit trail
func (s *SQLiteStore) RecordLoginAttempt(ctx context.Context, attempt *LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_attempts (id, username, remote_addr, success, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, attempt.ID, attempt.Username, attempt.RemoteAddr, boolToInt(attempt.Success), attempt.Reason, formatTime(attempt.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting login attempt: %w", err)
	}
	return nil
}

// ListLoginAttempts returns the most recent attempts, newest first
func (s *SQLiteStore) ListLoginAttempts(ctx context.Context, limit int) ([]*LoginAttempt, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, remote_addr, success, reason, created_at
		FROM login_attempts
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying login attempts: %w", err)
	}
	defer rows.Close()

	var out []*LoginAttempt
	for rows.Next() {
		var (
			a         LoginAttempt
			success   int
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Username, &a.RemoteAddr, &success, &a.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning login attempt: %w", err)
		}
		a.Success = success != 0
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
