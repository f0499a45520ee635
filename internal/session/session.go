// ABOUTME: Session wraps one accepted transport and its per-session ephemeral state
// ABOUTME: Holds a non-owning back-reference to the gateway that registered it

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/realmgate/internal/transport"
)

// Secrets are the ephemeral values seeded from entropy when a session bootstraps
// its secure state. Downstream protocol steps consume them.
type Secrets struct {
	OneTimeKey    uint32
	SessionIDHigh uint32
	SessionIDLow  uint32
}

// Owner is the gateway side of a session. Remove deregisters the session and
// closes its transport.
type Owner interface {
	Remove(s *Session)
}

// Session is the live, registered representation of one accepted connection.
type Session struct {
	id         string
	conn       *transport.Conn
	owner      Owner
	remoteAddr string
	acceptedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	secrets    Secrets
	hasSecrets bool

	// lifeMu orders connect and disconnect notification
	lifeMu            sync.Mutex
	connectDelivered  bool
	disconnectPending bool
}

// New creates a session for conn. The session context derives from parent and
// is cancelled when the session closes.
func New(parent context.Context, conn *transport.Conn, owner Owner) *Session {
	ctx, cancel := context.WithCancel(parent)

	var remote string
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Session{
		id:         uuid.New().String(),
		conn:       conn,
		owner:      owner,
		remoteAddr: remote,
		acceptedAt: time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address captured at accept time.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// AcceptedAt returns when the connection was accepted.
func (s *Session) AcceptedAt() time.Time { return s.acceptedAt }

// Transport returns the framed connection owned by this session.
func (s *Session) Transport() *transport.Conn { return s.conn }

// Owner returns the gateway that accepted this session.
func (s *Session) Owner() Owner { return s.owner }

// Context is cancelled once the session is closed.
func (s *Session) Context() context.Context { return s.ctx }

// SetSecrets records the most recently issued secrets.
func (s *Session) SetSecrets(sec Secrets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = sec
	s.hasSecrets = true
}

// Secrets returns the last issued secrets and whether any were issued.
func (s *Session) Secrets() (Secrets, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secrets, s.hasSecrets
}

// Send writes one framed message to the peer.
func (s *Session) Send(msg []byte) error {
	return s.conn.WriteMessage(msg)
}

// Receive blocks for the next framed message from the peer.
func (s *Session) Receive() ([]byte, error) {
	return s.conn.ReadMessage()
}

// Close cancels the session context and closes the transport.
// It does not touch any registry; use Disconnect for that.
func (s *Session) Close() error {
	s.cancel()
	return s.conn.Close()
}

// Interrupt cancels the session context and unblocks any pending Receive
// without closing the transport.
func (s *Session) Interrupt() {
	s.cancel()
	_ = s.conn.SetReadDeadline(time.Now())
}

// ConnectDelivered marks on-connect notification as finished. It reports
// whether a disconnect arrived meanwhile, in which case the caller must
// deliver on-disconnect now.
func (s *Session) ConnectDelivered() (disconnectPending bool) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.connectDelivered = true
	pending := s.disconnectPending
	s.disconnectPending = false
	return pending
}

// DeferDisconnect reports true if on-connect is still being delivered. The
// disconnect is then left to the ConnectDelivered caller.
func (s *Session) DeferDisconnect() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.connectDelivered {
		return false
	}
	s.disconnectPending = true
	return true
}

// Disconnect asks the owner to deregister and close the session.
// Sessions without an owner are simply closed.
func (s *Session) Disconnect() {
	if s.owner != nil {
		s.owner.Remove(s)
		return
	}
	_ = s.Close()
}
