// ABOUTME: Tailscale tsnet node that supplies gateway and HTTP listeners on the tailnet
// ABOUTME: Resolves state dir and auth key from config or TS_AUTHKEY

package tailnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// Config describes the tailnet node
type Config struct {
	Hostname  string
	AuthKey   string
	StateDir  string
	Ephemeral bool
}

// Node is a lazily started tsnet server. Listen has the gateway.ListenFunc shape.
type Node struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	srv *tsnet.Server
}

// New creates a node. Nothing touches the network until Up or Listen.
func New(cfg Config, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{cfg: cfg, logger: logger.With("component", "tailnet")}
}

// resolveStateDir returns the state directory, using default if not configured.
func resolveStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "realmgate", "tailscale"), nil
}

// resolveAuthKey returns the auth key from config or environment.
func resolveAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// Up joins the tailnet. It is a no-op once the node is up.
func (n *Node) Up(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.upLocked(ctx)
}

func (n *Node) upLocked(ctx context.Context) error {
	if n.srv != nil {
		return nil
	}

	stateDir, err := resolveStateDir(n.cfg.StateDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveAuthKey(n.cfg.AuthKey)
	if err != nil {
		return err
	}

	srv := &tsnet.Server{
		Hostname:  n.cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: n.cfg.Ephemeral,
		AuthKey:   authKey,
	}

	n.logger.Info("starting tailscale node", "hostname", n.cfg.Hostname, "state_dir", stateDir, "ephemeral", n.cfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return fmt.Errorf("starting tailscale: %w", err)
	}
	n.logStatus(status)
	n.srv = srv
	return nil
}

func (n *Node) logStatus(status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		n.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	n.logger.Info("tailscale node ready", "hostname", n.cfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// Listen brings the node up if needed and listens on the port of address.
// The host part is ignored; tailnet listeners bind every node address.
// backlog is ignored since tsnet manages its own queue.
func (n *Node) Listen(ctx context.Context, address string, _ int) (net.Listener, error) {
	port, err := listenPort(address)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.upLocked(ctx); err != nil {
		return nil, err
	}

	ln, err := n.srv.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale port %d: %w", port, err)
	}
	return ln, nil
}

func listenPort(address string) (int, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return 0, fmt.Errorf("parsing listen address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("listen address %q needs a port between 1 and 65535", address)
	}
	return port, nil
}

// Close leaves the tailnet. Listeners handed out by Listen stop working.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.srv == nil {
		return nil
	}
	err := n.srv.Close()
	n.srv = nil
	return err
}
