// ABOUTME: Registry of live sessions guarded by a single RWMutex
// ABOUTME: Add rejects duplicates and enforces capacity, Remove tolerates non-members

package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrDuplicateSession indicates the session is already registered.
var ErrDuplicateSession = errors.New("session already registered")

// ErrRegistryFull indicates the registry reached its configured capacity.
var ErrRegistryFull = errors.New("session registry full")

// Registry tracks the set of currently accepted, not-yet-removed sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	capacity int
}

// NewRegistry creates a registry. A capacity of zero or less means unbounded.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		capacity: capacity,
	}
}

// Add inserts s. Inserting a session that is already present returns
// ErrDuplicateSession, and inserting into a full registry returns ErrRegistryFull.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.id]; exists {
		return ErrDuplicateSession
	}
	if r.capacity > 0 && len(r.sessions) >= r.capacity {
		return ErrRegistryFull
	}
	r.sessions[s.id] = s
	return nil
}

// Remove deletes s and reports whether it was a member.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.id]; ok && cur == s {
		delete(r.sessions, s.id)
		return true
	}
	return false
}

// Contains reports whether s is currently registered.
func (r *Registry) Contains(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.sessions[s.id]
	return ok && cur == s
}

// Get looks a session up by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Capacity returns the configured bound, or zero when unbounded.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Snapshot returns the current sessions ordered by accept time. The slice is
// owned by the caller and stays valid while the registry keeps changing.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].acceptedAt.Equal(out[j].acceptedAt) {
			return out[i].id < out[j].id
		}
		return out[i].acceptedAt.Before(out[j].acceptedAt)
	})
	return out
}
