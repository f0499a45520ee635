// ABOUTME: HTTP surface for operators: health probes, session and realm listings
// ABOUTME: /api/* routes are guarded by JWT bearer auth when a verifier is configured

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/realmgate/internal/auth"
	"github.com/2389/realmgate/internal/gateway"
	"github.com/2389/realmgate/internal/session"
	"github.com/2389/realmgate/internal/store"
)

// DefaultLoginLimit is how many audit rows GET /api/logins returns without ?limit
const DefaultLoginLimit = 50

// SessionDirectory is the slice of the gateway the HTTP surface reads and acts on.
type SessionDirectory interface {
	State() gateway.State
	ActiveSessions() int
	Sessions() []*session.Session
	Session(id string) (*session.Session, bool)
	Remove(s *session.Session)
}

// RealmLister lists the realm directory
type RealmLister interface {
	ListRealms(ctx context.Context) ([]*store.Realm, error)
}

// LoginHistory lists audited login attempts, newest first
type LoginHistory interface {
	ListLoginAttempts(ctx context.Context, limit int) ([]*store.LoginAttempt, error)
}

// Config wires the HTTP surface. Realms, Logins, Verifier and Metrics are optional.
type Config struct {
	Gateway  SessionDirectory
	Realms   RealmLister
	Logins   LoginHistory
	Verifier auth.TokenVerifier

	Metrics     http.Handler
	MetricsPath string

	Logger *slog.Logger
}

// SessionResponse is one entry of GET /api/sessions
type SessionResponse struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	AcceptedAt time.Time `json:"accepted_at"`
	HasSecrets bool      `json:"has_secrets"`
}

// ListSessionsResponse is the JSON response for GET /api/sessions.
type ListSessionsResponse struct {
	State    string            `json:"state"`
	Count    int               `json:"count"`
	Sessions []SessionResponse `json:"sessions"`
}

// LoginAttemptResponse is one entry of GET /api/logins
type LoginAttemptResponse struct {
	Username   string    `json:"username"`
	RemoteAddr string    `json:"remote_addr"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

type handlers struct {
	gw     SessionDirectory
	realms RealmLister
	logins LoginHistory
	logger *slog.Logger
}

// NewHandler builds the operator mux.
func NewHandler(cfg Config) http.Handler {
	if cfg.Gateway == nil {
		panic("api: Config.Gateway is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{
		gw:     cfg.Gateway,
		realms: cfg.Realms,
		logins: cfg.Logins,
		logger: logger.With("component", "api"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)

	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, cfg.Metrics)
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/sessions", h.handleListSessions)
	apiMux.HandleFunc("DELETE /api/sessions/{id}", h.handleDeleteSession)
	apiMux.HandleFunc("GET /api/realms", h.handleListRealms)
	apiMux.HandleFunc("GET /api/logins", h.handleListLogins)

	var apiHandler http.Handler = apiMux
	if cfg.Verifier != nil {
		apiHandler = auth.HTTPAuthMiddleware(cfg.Verifier)(apiMux)
	} else {
		h.logger.Warn("operator API has no JWT secret configured, /api/* is unauthenticated")
	}
	mux.Handle("/api/", apiHandler)

	return mux
}

// handleHealth returns 200 OK if the process is alive.
func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK only while the gateway is accepting connections.
func (h *handlers) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := h.gw.State()
	if state != gateway.StateRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("gateway " + state.String()))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready (" + strconv.Itoa(h.gw.ActiveSessions()) + " sessions)"))
}

func (h *handlers) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.gw.Sessions()
	resp := ListSessionsResponse{
		State:    h.gw.State().String(),
		Count:    len(snapshot),
		Sessions: make([]SessionResponse, 0, len(snapshot)),
	}
	for _, s := range snapshot {
		_, hasSecrets := s.Secrets()
		resp.Sessions = append(resp.Sessions, SessionResponse{
			ID:         s.ID(),
			RemoteAddr: s.RemoteAddr(),
			AcceptedAt: s.AcceptedAt(),
			HasSecrets: hasSecrets,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := h.gw.Session(id)
	if !ok {
		sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	h.gw.Remove(s)

	operator, _ := auth.OperatorFromContext(r.Context())
	h.logger.Info("session disconnected by operator", "session_id", id, "remote_addr", s.RemoteAddr(), "operator", operator)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleListRealms(w http.ResponseWriter, r *http.Request) {
	if h.realms == nil {
		sendJSONError(w, http.StatusNotImplemented, "realm directory not configured")
		return
	}
	realms, err := h.realms.ListRealms(r.Context())
	if err != nil {
		h.logger.Error("failed to list realms", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list realms")
		return
	}

	resp := make([]auth.ServerInfo, 0, len(realms))
	for _, realm := range realms {
		resp = append(resp, auth.ServerInfoFromRealm(realm))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleListLogins(w http.ResponseWriter, r *http.Request) {
	if h.logins == nil {
		sendJSONError(w, http.StatusNotImplemented, "login audit not configured")
		return
	}

	limit := DefaultLoginLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	attempts, err := h.logins.ListLoginAttempts(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list login attempts", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list login attempts")
		return
	}

	resp := make([]LoginAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, LoginAttemptResponse{
			Username:   a.Username,
			RemoteAddr: a.RemoteAddr,
			Success:    a.Success,
			Reason:     a.Reason,
			CreatedAt:  a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
