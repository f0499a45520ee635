// ABOUTME: Tests for the realmgate CLI helpers and offline admin commands
// ABOUTME: Uses the mock store, httptest servers, and temp dirs

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/realmgate/internal/api"
	"github.com/2389/realmgate/internal/auth"
	"github.com/2389/realmgate/internal/config"
	"github.com/2389/realmgate/internal/store"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("REALMGATE_CONFIG", "/etc/realmgate.yaml")
	assert.Equal(t, "/etc/realmgate.yaml", getConfigPath())

	t.Setenv("REALMGATE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "realmgate", "gateway.yaml"), getConfigPath())
	assert.Equal(t, filepath.Join("/xdg", "realmgate", "token"), getTokenPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".config", "realmgate", "gateway.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "realmgate"), getDataPath())
}

func TestParseArgs(t *testing.T) {
	p, err := parseArgs(
		[]string{"alice", "--password", "pw", "--subscription=0x6", "--pk"},
		[]string{"password", "subscription"},
		[]string{"pk"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, p.positionals)
	assert.Equal(t, "pw", p.str("password"))
	assert.True(t, p.switches["pk"])

	sub, err := p.uintFlag("subscription", 32, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), sub)

	def, err := p.uintFlag("cd-key", 16, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), def)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown long flag", []string{"--nope"}},
		{"unknown short flag", []string{"-x"}},
		{"missing value", []string{"--password"}},
		{"value on switch", []string{"--pk=true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, []string{"password"}, []string{"pk"})
			assert.Error(t, err)
		})
	}
}

func TestParseArgs_NumericBounds(t *testing.T) {
	p, err := parseArgs([]string{"--cd-key", "70000", "--port", "abc"}, []string{"cd-key", "port"}, nil)
	require.NoError(t, err)

	_, err = p.uintFlag("cd-key", 16, 0)
	assert.Error(t, err)
	_, err = p.intFlag("port", 0)
	assert.Error(t, err)
}

func TestAccountCommands(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	var out bytes.Buffer

	require.NoError(t, accountAdd(ctx, s, []string{"alice", "--password", "hunter2", "--subscription", "6", "--cd-key", "4242"}, &out))
	assert.Contains(t, out.String(), "Created account alice")

	acct, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(6), acct.Subscription)
	assert.Equal(t, uint16(4242), acct.CDKey)
	assert.True(t, auth.CheckPassword(acct.PasswordHash, "hunter2"))

	err = accountAdd(ctx, s, []string{"alice", "--password", "again"}, &out)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	t.Setenv("REALMGATE_PASSWORD", "")
	assert.Error(t, accountAdd(ctx, s, []string{"bob"}, &out), "password required")
	assert.Error(t, accountAdd(ctx, s, []string{"--password", "pw"}, &out), "username required")

	t.Setenv("REALMGATE_PASSWORD", "from-env")
	require.NoError(t, accountAdd(ctx, s, []string{"bob"}, &out))
	bob, err := s.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(bob.PasswordHash, "from-env"))

	out.Reset()
	require.NoError(t, accountSetBanned(ctx, s, []string{"bob"}, true, &out))
	assert.Contains(t, out.String(), "Banned bob")
	bob, err = s.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Banned)

	assert.ErrorIs(t, accountSetBanned(ctx, s, []string{"carol"}, true, &out), store.ErrNotFound)

	out.Reset()
	require.NoError(t, accountList(ctx, s, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "USERNAME"))
	assert.Contains(t, lines[1], "alice")
	assert.Contains(t, lines[1], "0x6")
	assert.Contains(t, lines[1], "never")
	assert.Contains(t, lines[2], "bob")
	assert.Contains(t, lines[2], "true")
}

func TestRealmCommands(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	var out bytes.Buffer

	require.NoError(t, realmAdd(ctx, s, []string{"--id", "1", "--name", "Ravencrest", "--host", "10.0.0.1", "--max-players", "2", "--players", "2", "--pk"}, &out))
	require.NoError(t, realmAdd(ctx, s, []string{"--id=2", "--name=Shadowmoon", "--offline"}, &out))

	r, err := s.GetRealm(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", r.Host)
	assert.Equal(t, 8085, r.Port)
	assert.True(t, r.PKFlag)
	assert.True(t, r.Online)
	assert.True(t, r.Full())

	r, err = s.GetRealm(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", r.Host)
	assert.False(t, r.Online)

	out.Reset()
	require.NoError(t, realmList(ctx, s, &out))
	listing := out.String()
	assert.Contains(t, listing, "Ravencrest")
	assert.Contains(t, listing, "2/2")
	assert.Contains(t, listing, "full")
	assert.Contains(t, listing, "offline")

	require.NoError(t, realmRemove(ctx, s, []string{"2"}, &out))
	_, err = s.GetRealm(ctx, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Error(t, realmRemove(ctx, s, []string{"300"}, &out))
	assert.ErrorIs(t, realmRemove(ctx, s, []string{"9"}, &out), store.ErrNotFound)
	assert.Error(t, realmAdd(ctx, s, []string{"--name", "NoID"}, &out))
	assert.Error(t, realmAdd(ctx, s, []string{"--id", "256", "--name", "Big"}, &out))
	assert.Error(t, realmAdd(ctx, s, []string{"--id", "3", "--name", "BadPort", "--port", "0"}, &out))
}

func TestMintToken(t *testing.T) {
	secret := []byte("cli-secret")
	verifier, err := auth.NewJWTVerifier(secret)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, mintToken(secret, []string{"--sub", "ops", "--ttl", "1h"}, "", &out))
	sub, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)

	tokenPath := filepath.Join(t.TempDir(), "cfg", "token")
	out.Reset()
	require.NoError(t, mintToken(secret, []string{"--sub=ops", "--save"}, tokenPath, &out))
	assert.Contains(t, out.String(), "Saved token")
	info, err := os.Stat(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	t.Setenv("REALMGATE_TOKEN", "")
	sub, err = verifier.Verify(loadToken(tokenPath))
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)

	assert.Error(t, mintToken(secret, nil, "", &out), "sub required")
	assert.Error(t, mintToken(secret, []string{"--sub", "ops", "--ttl", "-1h"}, "", &out))
	assert.Error(t, mintToken(secret, []string{"--sub", "ops", "--ttl", "soon"}, "", &out))
}

func TestLoadToken_EnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0600))

	t.Setenv("REALMGATE_TOKEN", "")
	assert.Equal(t, "from-file", loadToken(path))

	t.Setenv("REALMGATE_TOKEN", "from-env")
	assert.Equal(t, "from-env", loadToken(path))

	t.Setenv("REALMGATE_TOKEN", "")
	assert.Equal(t, "", loadToken(filepath.Join(t.TempDir(), "missing")))
}

func TestCheckHealth(t *testing.T) {
	ready := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("gateway stopping"))
			return
		}
		_, _ = w.Write([]byte("ready (3 sessions)"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, checkHealth(context.Background(), srv.Client(), srv.URL, &out))
	assert.Equal(t, "ready (3 sessions)\n", out.String())

	ready = false
	err := checkHealth(context.Background(), srv.Client(), srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway stopping")
}

func TestListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(api.ListSessionsResponse{
			State: "running",
			Count: 1,
			Sessions: []api.SessionResponse{
				{ID: "abc-123", RemoteAddr: "10.1.1.1:5555", AcceptedAt: time.Now().Add(-time.Minute), HasSecrets: true},
			},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, listSessions(context.Background(), srv.Client(), srv.URL, "good", &out))
	assert.Contains(t, out.String(), "gateway running, 1 session(s)")
	assert.Contains(t, out.String(), "abc-123")
	assert.Contains(t, out.String(), "10.1.1.1:5555")

	err := listSessions(context.Background(), srv.Client(), srv.URL, "bad", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestRenderConfig_Loads(t *testing.T) {
	dir := t.TempDir()
	a := initAnswers{
		Port:        "3724",
		FrameSize:   "dword",
		HTTPAddr:    "127.0.0.1:8080",
		GRPCAddr:    "127.0.0.1:50051",
		DBPath:      filepath.Join(dir, "realmgate.db"),
		JWTSecret:   "c2VjcmV0",
		Tailscale:   true,
		TSHostname:  "realmgate",
		TSEphemeral: true,
		LogLevel:    "debug",
		LogFormat:   "json",
		Metrics:     true,
	}
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(renderConfig(a)), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3724, cfg.Server.Port)
	assert.Equal(t, "dword", cfg.Server.FrameSize)
	assert.Equal(t, "127.0.0.1:50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "c2VjcmV0", cfg.Auth.JWTSecret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutWindow)
	assert.True(t, cfg.Tailscale.Enabled)
	assert.True(t, cfg.Tailscale.Ephemeral)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	require.NoError(t, err)
	b, err := generateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 44)
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	reader := bufio.NewReader(strings.NewReader("custom\n\n"))

	assert.Equal(t, "custom", promptTo(&out, reader, "Port", "3724"))
	assert.Equal(t, "3724", promptTo(&out, reader, "Port", "3724"), "empty line keeps default")
	assert.Equal(t, "word", promptTo(&out, reader, "Frame", "word"), "EOF keeps default")
	assert.Contains(t, out.String(), "Port [3724]: ")

	assert.True(t, yes(" Y "))
	assert.True(t, yes("yes"))
	assert.False(t, yes("no"))
	assert.False(t, yes(""))
}

func TestNewLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	logger = newLogger(config.LoggingConfig{Level: "debug"}, &buf)
	logger.With("component", "gateway").WithGroup("conn").Debug("accepted", "id", 7)
	line := buf.String()
	assert.Contains(t, line, "DBG")
	assert.Contains(t, line, "accepted")
	assert.Contains(t, line, "component=")
	assert.Contains(t, line, "conn.id=")
	assert.Contains(t, line, "7")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
