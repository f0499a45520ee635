// ABOUTME: Tests for the operator HTTP surface
// ABOUTME: Uses httptest against a fake session directory and the mock store

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/realmgate/internal/auth"
	"github.com/2389/realmgate/internal/gateway"
	"github.com/2389/realmgate/internal/session"
	"github.com/2389/realmgate/internal/store"
	"github.com/2389/realmgate/internal/transport"
)

type fakeDirectory struct {
	mu       sync.Mutex
	state    gateway.State
	sessions map[string]*session.Session
	order    []string
	removed  []string
	watchers []func(gateway.State)
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{state: gateway.StateRunning, sessions: make(map[string]*session.Session)}
}

func (d *fakeDirectory) State() gateway.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDirectory) setState(s gateway.State) {
	d.mu.Lock()
	d.state = s
	watchers := append([]func(gateway.State){}, d.watchers...)
	d.mu.Unlock()
	for _, fn := range watchers {
		fn(s)
	}
}

func (d *fakeDirectory) OnStateChange(fn func(gateway.State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watchers = append(d.watchers, fn)
}

func (d *fakeDirectory) ActiveSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDirectory) Sessions() []*session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*session.Session, 0, len(d.order))
	for _, id := range d.order {
		if s, ok := d.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (d *fakeDirectory) Session(id string) (*session.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	return s, ok
}

func (d *fakeDirectory) Remove(s *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[s.ID()]; !ok {
		return
	}
	delete(d.sessions, s.ID())
	d.removed = append(d.removed, s.ID())
	_ = s.Close()
}

func (d *fakeDirectory) add(t *testing.T) *session.Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	s := session.New(context.Background(), transport.NewConn(server, transport.Options{}), d)
	t.Cleanup(func() { _ = s.Close() })

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.ID()] = s
	d.order = append(d.order, s.ID())
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	dir := newFakeDirectory()
	h := NewHandler(Config{Gateway: dir, Logger: testLogger()})

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	dir.add(t)
	rec = do(t, h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (1 sessions)", rec.Body.String())

	for _, state := range []gateway.State{gateway.StateStarting, gateway.StateStopping, gateway.StateStopped} {
		dir.setState(state)
		rec = do(t, h, http.MethodGet, "/health/ready", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, state.String())
		assert.Equal(t, "gateway "+state.String(), rec.Body.String())
	}
}

func TestListSessions(t *testing.T) {
	dir := newFakeDirectory()
	first := dir.add(t)
	second := dir.add(t)
	second.SetSecrets(session.Secrets{OneTimeKey: 1})

	h := NewHandler(Config{Gateway: dir, Logger: testLogger()})
	rec := do(t, h, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ListSessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.State)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, first.ID(), resp.Sessions[0].ID)
	assert.False(t, resp.Sessions[0].HasSecrets)
	assert.Equal(t, second.ID(), resp.Sessions[1].ID)
	assert.True(t, resp.Sessions[1].HasSecrets)
	assert.Equal(t, first.RemoteAddr(), resp.Sessions[0].RemoteAddr)
	assert.WithinDuration(t, first.AcceptedAt(), resp.Sessions[0].AcceptedAt, time.Millisecond)
}

func TestListSessions_Empty(t *testing.T) {
	h := NewHandler(Config{Gateway: newFakeDirectory(), Logger: testLogger()})
	rec := do(t, h, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":[]`)
}

func TestDeleteSession(t *testing.T) {
	dir := newFakeDirectory()
	s := dir.add(t)
	h := NewHandler(Config{Gateway: dir, Logger: testLogger()})

	rec := do(t, h, http.MethodDelete, "/api/sessions/"+s.ID(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{s.ID()}, dir.removed)
	assert.Equal(t, 0, dir.ActiveSessions())
	assert.Error(t, s.Context().Err(), "removed session is closed")

	rec = do(t, h, http.MethodDelete, "/api/sessions/"+s.ID(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "session not found")
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(Config{Gateway: newFakeDirectory(), Logger: testLogger()})
	rec := do(t, h, http.MethodPost, "/api/sessions", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListRealms(t *testing.T) {
	ctx := context.Background()
	mock := store.NewMockStore()
	require.NoError(t, mock.UpsertRealm(ctx, &store.Realm{ID: 2, Name: "Shadowmoon", Host: "10.0.0.2", Port: 8085, Online: true, MaxPlayers: 100}))
	require.NoError(t, mock.UpsertRealm(ctx, &store.Realm{ID: 1, Name: "Ravencrest", Host: "10.0.0.1", Port: 8085, PKFlag: true}))

	h := NewHandler(Config{Gateway: newFakeDirectory(), Realms: mock, Logger: testLogger()})
	rec := do(t, h, http.MethodGet, "/api/realms", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []auth.ServerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	names := []string{resp[0].Name, resp[1].Name}
	assert.ElementsMatch(t, []string{"Ravencrest", "Shadowmoon"}, names)
}

func TestListRealms_Errors(t *testing.T) {
	h := NewHandler(Config{Gateway: newFakeDirectory(), Logger: testLogger()})
	rec := do(t, h, http.MethodGet, "/api/realms", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	mock := store.NewMockStore()
	mock.SetErr(errors.New("boom"))
	h = NewHandler(Config{Gateway: newFakeDirectory(), Realms: mock, Logger: testLogger()})
	rec = do(t, h, http.MethodGet, "/api/realms", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestListLogins(t *testing.T) {
	ctx := context.Background()
	mock := store.NewMockStore()
	base := time.Now().Add(-time.Hour)
	for i, reason := range []string{store.ReasonBadPassword, store.ReasonOK, store.ReasonLockedOut} {
		require.NoError(t, mock.RecordLoginAttempt(ctx, &store.LoginAttempt{
			Username:  "alice",
			Success:   reason == store.ReasonOK,
			Reason:    reason,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	h := NewHandler(Config{Gateway: newFakeDirectory(), Logins: mock, Logger: testLogger()})

	rec := do(t, h, http.MethodGet, "/api/logins?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []LoginAttemptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, store.ReasonLockedOut, resp[0].Reason)
	assert.Equal(t, store.ReasonOK, resp[1].Reason)
	assert.True(t, resp[1].Success)

	rec = do(t, h, http.MethodGet, "/api/logins", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp, 3)

	for _, bad := range []string{"0", "-1", "ten"} {
		rec = do(t, h, http.MethodGet, "/api/logins?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestAPIAuth(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte("operator-secret"))
	require.NoError(t, err)
	dir := newFakeDirectory()
	h := NewHandler(Config{Gateway: dir, Verifier: verifier, Logger: testLogger()})

	rec := do(t, h, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodGet, "/api/sessions", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := verifier.Generate("ops", time.Hour)
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/api/sessions", token)
	assert.Equal(t, http.StatusOK, rec.Code)

	expired, err := verifier.Generate("ops", -time.Minute)
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/api/sessions", expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token expired")

	// health stays open
	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("realmgate_sessions_active 0\n"))
	})
	verifier, err := auth.NewJWTVerifier([]byte("operator-secret"))
	require.NoError(t, err)
	h := NewHandler(Config{Gateway: newFakeDirectory(), Verifier: verifier, Metrics: metrics, MetricsPath: "/metrics", Logger: testLogger()})

	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "realmgate_sessions_active"))

	h = NewHandler(Config{Gateway: newFakeDirectory(), Logger: testLogger()})
	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewHandler_RequiresGateway(t *testing.T) {
	assert.Panics(t, func() { NewHandler(Config{}) })
}
