// ABOUTME: End-to-end tests for the composed realmgate server
// ABOUTME: Runs the gateway, HTTP, and gRPC health surfaces on loopback ports

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/realmgate/internal/api"
	"github.com/2389/realmgate/internal/auth"
	"github.com/2389/realmgate/internal/config"
	"github.com/2389/realmgate/internal/gateway"
	"github.com/2389/realmgate/internal/session"
	"github.com/2389/realmgate/internal/store"
)

const waitTimeout = 3 * time.Second

const testSecret = "server-test-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			BindAddress: "127.0.0.1",
			HTTPAddr:    "127.0.0.1:0",
			GRPCAddr:    "127.0.0.1:0",
		},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "realmgate.db")},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	cfg.Server.ShutdownTimeout = time.Second
	return cfg
}

type running struct {
	srv    *Server
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	srv, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{srv: srv, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		return srv.Gateway().State() == gateway.StateRunning && srv.HTTPAddr() != nil
	}, waitTimeout, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(waitTimeout):
			t.Error("server did not stop")
		}
	})
	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(waitTimeout):
		t.Fatal("server did not stop")
		return nil
	}
}

func token(t *testing.T) string {
	t.Helper()
	v, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	tok, err := v.Generate("ops", time.Hour)
	require.NoError(t, err)
	return tok
}

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func waitSession(t *testing.T, g *gateway.Gateway) *session.Session {
	t.Helper()
	var s *session.Session
	require.Eventually(t, func() bool {
		sessions := g.Sessions()
		if len(sessions) == 0 {
			return false
		}
		s = sessions[0]
		return true
	}, waitTimeout, 5*time.Millisecond)
	return s
}

func TestServer_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	r := startServer(t, cfg)
	ctx := context.Background()
	base := "http://" + r.srv.HTTPAddr().String()

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, r.srv.Store().CreateAccount(ctx, &store.Account{Username: "alice", PasswordHash: hash}))
	require.NoError(t, r.srv.Store().UpsertRealm(ctx, &store.Realm{ID: 1, Name: "Ravencrest", Host: "10.0.0.1", Port: 8085, Online: true}))

	code, body := get(t, base+"/health/ready", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ready")

	conn, err := net.DialTimeout("tcp", r.srv.Gateway().Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	s := waitSession(t, r.srv.Gateway())

	policy := r.srv.Gateway().Policy()
	assert.True(t, policy.ValidateLogin(ctx, s, "alice", "hunter2", 0, 0))
	assert.False(t, policy.ValidateLogin(ctx, s, "alice", "wrong", 0, 0))
	assert.True(t, policy.ValidateServerIdentity(ctx, s, 1))

	_, err = r.srv.Gateway().IssueSecrets(s)
	require.NoError(t, err)

	code, _ = get(t, base+"/api/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = get(t, base+"/api/sessions", token(t))
	require.Equal(t, http.StatusOK, code)
	var sessions api.ListSessionsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &sessions))
	require.Equal(t, 1, sessions.Count)
	assert.Equal(t, s.ID(), sessions.Sessions[0].ID)
	assert.True(t, sessions.Sessions[0].HasSecrets)

	code, body = get(t, base+"/api/logins", token(t))
	require.Equal(t, http.StatusOK, code)
	var logins []api.LoginAttemptResponse
	require.NoError(t, json.Unmarshal([]byte(body), &logins))
	require.Len(t, logins, 2)
	assert.Equal(t, store.ReasonBadPassword, logins[0].Reason)
	assert.Equal(t, store.ReasonOK, logins[1].Reason)

	code, body = get(t, base+"/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `realmgate_logins_total{result="ok"} 1`)
	assert.Contains(t, body, `realmgate_logins_total{result="bad_password"} 1`)
	assert.Contains(t, body, "realmgate_sessions_accepted_total 1")

	grpcConn, err := grpc.NewClient(r.srv.GRPCAddr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer grpcConn.Close()
	hctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(grpcConn).Check(hctx, &healthpb.HealthCheckRequest{Service: api.GatewayServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	require.NoError(t, r.stop(t))
	assert.Equal(t, gateway.StateStopped, r.srv.Gateway().State())
	assert.Equal(t, 0, r.srv.Gateway().ActiveSessions())

	_, err = r.srv.Store().ListAccounts(ctx)
	assert.Error(t, err, "store is closed after Run returns")
}

func TestServer_OperatorDisconnect(t *testing.T) {
	r := startServer(t, testConfig(t))
	conn, err := net.DialTimeout("tcp", r.srv.Gateway().Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	s := waitSession(t, r.srv.Gateway())

	req, err := http.NewRequest(http.MethodDelete, "http://"+r.srv.HTTPAddr().String()+"/api/sessions/"+s.ID(), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "peer sees the close")
	assert.Equal(t, 0, r.srv.Gateway().ActiveSessions())
}

func TestServer_GatewayBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig(t)
	cfg.Server.Port = occupied.Addr().(*net.TCPAddr).Port

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, gateway.ErrBind), "got %v", err)
		assert.Contains(t, err.Error(), "gateway:")
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after bind failure")
	}
}

func TestServer_HTTPBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = occupied.Addr().String()

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
	assert.Equal(t, gateway.StateStopped, srv.Gateway().State())
}

func TestServer_NoOperatorSurfaces(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPAddr = ""
	cfg.Server.GRPCAddr = ""

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Gateway().State() == gateway.StateRunning }, waitTimeout, 5*time.Millisecond)
	assert.Nil(t, srv.HTTPAddr())
	assert.Nil(t, srv.GRPCAddr())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
}

func TestServer_DBPathOverride(t *testing.T) {
	override := filepath.Join(t.TempDir(), "nested", "override.db")
	t.Setenv(dbPathOverrideEnv, override)

	srv, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer srv.Store().Close()

	_, err = os.Stat(override)
	assert.NoError(t, err)
}

func TestServer_LockoutDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.MaxFailedLogins = -1

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer srv.Store().Close()
	assert.Nil(t, srv.lockout)
}

func TestServer_TailnetPortDefault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tailscale = config.TailscaleConfig{Enabled: true, Hostname: "realmgate"}
	cfg.Server.Port = 0

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer srv.Store().Close()

	host, port := srv.gatewayAddress()
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, DefaultTailnetPort, port)
	assert.NotNil(t, srv.httpServer)
	assert.True(t, strings.HasPrefix(srv.httpServer.Addr, "127.0.0.1:"))
}
