// ABOUTME: Policy contract the gateway consults for identity and credential decisions
// ABOUTME: Also defines ServerInfo, the directory entry returned to clients

package auth

import (
	"context"
	"io"

	"github.com/2389/realmgate/internal/session"
)

// Policy decides who may log in, which server identities are valid, and what
// the realm directory looks like for a session. Implementations must be safe
// for concurrent use; the gateway calls them from per-session goroutines.
//
// A false result from a Validate method is a decision, not an error. The
// gateway never disconnects a session on its own because of one.
type Policy interface {
	// ValidateServerIdentity reports whether serverID names a server the
	// session may be routed to.
	ValidateServerIdentity(ctx context.Context, s *session.Session, serverID uint8) bool

	// ValidateLogin reports whether the credentials are acceptable.
	// subscription is the set of flags the client asks to use and cdKey is
	// the key it presents.
	ValidateLogin(ctx context.Context, s *session.Session, username, password string, subscription uint32, cdKey uint16) bool

	// ListAvailableServers returns the directory for the session. ok is false
	// when the directory could not be produced.
	ListAvailableServers(ctx context.Context, s *session.Session) (servers []ServerInfo, ok bool)

	// GenerateSessionSecrets derives fresh session secrets from entropy.
	GenerateSessionSecrets(entropy io.Reader) (session.Secrets, error)
}

// ServerInfo describes one server in the directory
type ServerInfo struct {
	ID             uint8  `json:"id"`
	Name           string `json:"name"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AgeLimit       uint8  `json:"age_limit"`
	PKFlag         bool   `json:"pk_flag"`
	CurrentPlayers int    `json:"current_players"`
	MaxPlayers     int    `json:"max_players"`
	Online         bool   `json:"online"`
}
