// ABOUTME: StorePolicy decides logins and server identities from the persistent store
// ABOUTME: Applies bcrypt checks, subscription/cd-key rules, lockout, and audit logging

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/realmgate/internal/lockout"
	"github.com/2389/realmgate/internal/session"
	"github.com/2389/realmgate/internal/store"
)

// AccountLookup is the subset of store.AccountStore StorePolicy needs
type AccountLookup interface {
	GetAccount(ctx context.Context, username string) (*store.Account, error)
	TouchLastLogin(ctx context.Context, accountID string, at time.Time) error
}

// RealmDirectory is the subset of store.RealmStore StorePolicy needs
type RealmDirectory interface {
	GetRealm(ctx context.Context, id uint8) (*store.Realm, error)
	ListRealms(ctx context.Context) ([]*store.Realm, error)
}

// LoginAuditor records login decisions
type LoginAuditor interface {
	RecordLoginAttempt(ctx context.Context, attempt *store.LoginAttempt) error
}

// LoginRecorder observes login outcomes. result is one of the store.Reason* values.
type LoginRecorder interface {
	RecordLogin(result string)
}

// StorePolicyConfig wires StorePolicy to its collaborators.
// Accounts and Realms are required; everything else is optional.
type StorePolicyConfig struct {
	Accounts AccountLookup
	Realms   RealmDirectory
	Audit    LoginAuditor
	Lockout  *lockout.Tracker
	Recorder LoginRecorder
	Logger   *slog.Logger
}

// StorePolicy is the Policy used by the realmgate server
type StorePolicy struct {
	SecretGenerator

	accounts AccountLookup
	realms   RealmDirectory
	audit    LoginAuditor
	lockout  *lockout.Tracker
	recorder LoginRecorder
	logger   *slog.Logger
	now      func() time.Time
}

var _ Policy = (*StorePolicy)(nil)

// NewStorePolicy creates a StorePolicy. It panics if Accounts or Realms is nil.
func NewStorePolicy(cfg StorePolicyConfig) *StorePolicy {
	if cfg.Accounts == nil || cfg.Realms == nil {
		panic("auth: StorePolicy requires Accounts and Realms")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StorePolicy{
		accounts: cfg.Accounts,
		realms:   cfg.Realms,
		audit:    cfg.Audit,
		lockout:  cfg.Lockout,
		recorder: cfg.Recorder,
		logger:   logger.With("component", "policy"),
		now:      time.Now,
	}
}

// ValidateServerIdentity accepts a server ID that names an online realm with free slots.
func (p *StorePolicy) ValidateServerIdentity(ctx context.Context, s *session.Session, serverID uint8) bool {
	realm, err := p.realms.GetRealm(ctx, serverID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Error("realm lookup failed", "server_id", serverID, "session_id", sessionID(s), "error", err)
		}
		return false
	}
	if !realm.Online {
		p.logger.Debug("server identity rejected: realm offline", "server_id", serverID, "session_id", sessionID(s))
		return false
	}
	if realm.Full() {
		p.logger.Debug("server identity rejected: realm full", "server_id", serverID, "session_id", sessionID(s))
		return false
	}
	return true
}

// ValidateLogin checks, in order: lockout, account existence, password,
// ban, subscription flags, and cd key. Every decision is audited.
func (p *StorePolicy) ValidateLogin(ctx context.Context, s *session.Session, username, password string, subscription uint32, cdKey uint16) bool {
	key := strings.ToLower(username)

	if p.lockout != nil && p.lockout.Locked(key) {
		burnPasswordCompare(password)
		p.finish(ctx, s, username, store.ReasonLockedOut)
		return false
	}

	acct, err := p.accounts.GetAccount(ctx, username)
	if err != nil {
		burnPasswordCompare(password)
		if errors.Is(err, store.ErrNotFound) {
			p.fail(key)
			p.finish(ctx, s, username, store.ReasonUnknownAccount)
		} else {
			p.logger.Error("account lookup failed", "username", username, "error", err)
			p.finish(ctx, s, username, store.ReasonStoreError)
		}
		return false
	}

	if !CheckPassword(acct.PasswordHash, password) {
		p.fail(key)
		p.finish(ctx, s, username, store.ReasonBadPassword)
		return false
	}

	if acct.Banned {
		p.finish(ctx, s, username, store.ReasonBanned)
		return false
	}

	if acct.Subscription&subscription != subscription {
		p.finish(ctx, s, username, store.ReasonSubscription)
		return false
	}

	if acct.CDKey != 0 && acct.CDKey != cdKey {
		p.fail(key)
		p.finish(ctx, s, username, store.ReasonCDKey)
		return false
	}

	if p.lockout != nil {
		p.lockout.Reset(key)
	}
	if err := p.accounts.TouchLastLogin(ctx, acct.ID, p.now().UTC()); err != nil {
		p.logger.Warn("failed to update last login", "username", username, "error", err)
	}
	p.finish(ctx, s, username, store.ReasonOK)
	return true
}

// ListAvailableServers returns every realm in the directory, online or not.
func (p *StorePolicy) ListAvailableServers(ctx context.Context, s *session.Session) ([]ServerInfo, bool) {
	realms, err := p.realms.ListRealms(ctx)
	if err != nil {
		p.logger.Error("listing realms failed", "session_id", sessionID(s), "error", err)
		return nil, false
	}

	servers := make([]ServerInfo, 0, len(realms))
	for _, r := range realms {
		servers = append(servers, ServerInfoFromRealm(r))
	}
	return servers, true
}

// ServerInfoFromRealm maps a directory row to the client-facing ServerInfo.
func ServerInfoFromRealm(r *store.Realm) ServerInfo {
	return ServerInfo{
		ID:             r.ID,
		Name:           r.Name,
		Host:           r.Host,
		Port:           r.Port,
		AgeLimit:       r.AgeLimit,
		PKFlag:         r.PKFlag,
		CurrentPlayers: r.CurrentPlayers,
		MaxPlayers:     r.MaxPlayers,
		Online:         r.Online,
	}
}

func (p *StorePolicy) fail(key string) {
	if p.lockout == nil {
		return
	}
	if n := p.lockout.Fail(key); p.lockout.Locked(key) {
		p.logger.Warn("account locked out", "username", key, "failures", n)
	}
}

// finish audits and reports one decision.
func (p *StorePolicy) finish(ctx context.Context, s *session.Session, username, reason string) {
	success := reason == store.ReasonOK
	if success {
		p.logger.Info("login accepted", "username", username, "session_id", sessionID(s))
	} else {
		p.logger.Info("login rejected", "username", username, "session_id", sessionID(s), "reason", reason)
	}

	if p.recorder != nil {
		p.recorder.RecordLogin(reason)
	}

	if p.audit == nil {
		return
	}
	attempt := &store.LoginAttempt{
		Username:   username,
		RemoteAddr: remoteAddr(s),
		Success:    success,
		Reason:     reason,
		CreatedAt:  p.now().UTC(),
	}
	if err := p.audit.RecordLoginAttempt(ctx, attempt); err != nil {
		p.logger.Warn("failed to record login attempt", "username", username, "error", err)
	}
}

func sessionID(s *session.Session) string {
	if s == nil {
		return ""
	}
	return s.ID()
}

func remoteAddr(s *session.Session) string {
	if s == nil {
		return ""
	}
	return s.RemoteAddr()
}
