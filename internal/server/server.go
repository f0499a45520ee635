// ABOUTME: Composition of store, policy, gateway, and the operator surfaces
// ABOUTME: Run serves everything until the context ends, then shuts down in order

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/2389/realmgate/internal/api"
	"github.com/2389/realmgate/internal/auth"
	"github.com/2389/realmgate/internal/config"
	"github.com/2389/realmgate/internal/gateway"
	"github.com/2389/realmgate/internal/lockout"
	"github.com/2389/realmgate/internal/metrics"
	"github.com/2389/realmgate/internal/store"
	"github.com/2389/realmgate/internal/tailnet"
)

const (
	// DefaultTailnetPort is the game port used on the tailnet when server.port is 0
	DefaultTailnetPort = 3724

	tailnetHTTPAddr   = ":80"
	lockoutMaxEntries = 10000
	readHeaderTimeout = 10 * time.Second
	dbPathOverrideEnv = "REALMGATE_DB_PATH"
)

// Server owns every long-lived component of a realmgate process.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store   store.Store
	lockout *lockout.Tracker
	metrics *metrics.Metrics
	policy  *auth.StorePolicy
	gateway *gateway.Gateway
	health  *api.Health
	node    *tailnet.Node

	httpServer *http.Server
	grpcServer *grpc.Server

	mu       sync.Mutex
	httpAddr net.Addr
	grpcAddr net.Addr
}

// New builds a server from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
	}

	srv := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		store:   s,
		metrics: metrics.New(),
	}

	if cfg.Auth.MaxFailedLogins > 0 {
		srv.lockout = lockout.New(cfg.Auth.LockoutWindow, cfg.Auth.MaxFailedLogins, lockoutMaxEntries)
	} else {
		srv.logger.Warn("login lockout disabled")
	}

	srv.policy = auth.NewStorePolicy(auth.StorePolicyConfig{
		Accounts: s,
		Realms:   s,
		Audit:    s,
		Lockout:  srv.lockout,
		Recorder: srv.metrics,
		Logger:   logger,
	})

	gwOpts := gateway.Options{
		Backlog:         cfg.Server.Backlog,
		MaxSessions:     cfg.Server.MaxSessions,
		Framing:         cfg.Framing(),
		Metrics:         srv.metrics,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	}
	if cfg.Tailscale.Enabled {
		srv.node = tailnet.New(tailnet.Config{
			Hostname:  cfg.Tailscale.Hostname,
			AuthKey:   cfg.Tailscale.AuthKey,
			StateDir:  cfg.Tailscale.StateDir,
			Ephemeral: cfg.Tailscale.Ephemeral,
		}, logger)
		gwOpts.Listen = srv.node.Listen
	}
	srv.gateway = gateway.New(srv.policy, gwOpts)

	srv.health = api.NewHealth(srv.gateway)
	if cfg.Server.GRPCAddr != "" {
		srv.grpcServer = api.NewGRPCServer(srv.health)
	}

	apiCfg := api.Config{
		Gateway:  srv.gateway,
		Realms:   s,
		Logins:   s,
		Verifier: verifier,
		Logger:   logger,
	}
	if cfg.Metrics.Enabled {
		apiCfg.Metrics = srv.metrics.Handler()
		apiCfg.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Server.HTTPAddr != "" || srv.node != nil {
		srv.httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           api.NewHandler(apiCfg),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	return srv, nil
}

// initStore opens the SQLite store named by config or REALMGATE_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv(dbPathOverrideEnv); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// Gateway returns the session gateway.
func (s *Server) Gateway() *gateway.Gateway { return s.gateway }

// Store returns the backing store.
func (s *Server) Store() store.Store { return s.store }

// Metrics returns the metrics registry wrapper.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// HTTPAddr returns the bound operator HTTP address, or nil before Run binds it.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC health address, or nil before Run binds it.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// Run starts the operator surfaces and the gateway and blocks until ctx is
// canceled or a component fails. Resources are released before it returns.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	httpLn, grpcLn, err := s.setupListeners(ctx)
	if err != nil {
		return errors.Join(err, s.release())
	}

	errCh := s.startServers(httpLn, grpcLn)

	gwCtx, gwCancel := context.WithCancel(context.Background())
	defer gwCancel()
	gwDone := make(chan error, 1)
	host, port := s.gatewayAddress()
	go func() { gwDone <- s.gateway.Run(gwCtx, host, port) }()

	serverErr, gatewayExited := s.waitForShutdownSignal(ctx, errCh, gwDone)

	var gatewayErr error
	if gatewayExited {
		gatewayErr = serverErr
		serverErr = nil
	} else {
		gwCancel()
		gatewayErr = <-gwDone
	}
	if gatewayErr != nil {
		gatewayErr = fmt.Errorf("gateway: %w", gatewayErr)
	}

	shutdownErr := s.gracefulShutdown()

	return errors.Join(serverErr, gatewayErr, shutdownErr)
}

func (s *Server) gatewayAddress() (string, int) {
	port := s.cfg.Server.Port
	if s.node != nil && port == 0 {
		port = DefaultTailnetPort
	}
	return s.cfg.Server.BindAddress, port
}

// setupListeners binds the HTTP and gRPC listeners that are configured.
func (s *Server) setupListeners(ctx context.Context) (httpLn, grpcLn net.Listener, err error) {
	if s.httpServer != nil {
		if s.cfg.Server.HTTPAddr != "" {
			httpLn, err = net.Listen("tcp", s.cfg.Server.HTTPAddr)
		} else {
			httpLn, err = s.node.Listen(ctx, tailnetHTTPAddr, 0)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
		}
	}

	if s.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", s.cfg.Server.GRPCAddr)
		if err != nil {
			if httpLn != nil {
				_ = httpLn.Close()
			}
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	s.mu.Lock()
	if httpLn != nil {
		s.httpAddr = httpLn.Addr()
	}
	if grpcLn != nil {
		s.grpcAddr = grpcLn.Addr()
	}
	s.mu.Unlock()

	return httpLn, grpcLn, nil
}

// startServers starts the HTTP and gRPC servers in goroutines, returning an error channel.
func (s *Server) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if httpLn != nil {
		go func() {
			s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation, a server error, or the
// gateway exiting on its own. gatewayExited reports the last case.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error, gwDone <-chan error) (err error, gatewayExited bool) {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil, false
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err, false
	case err := <-gwDone:
		if err != nil {
			s.logger.Error("gateway exited", "error", err)
		} else {
			s.logger.Warn("gateway exited without shutdown")
		}
		return err, true
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The Run context is already canceled at this point.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.shutdown(ctx)
}

// shutdown stops the operator surfaces and releases resources. The gateway
// has already drained by the time this runs.
func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	if s.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	}
	if s.grpcServer != nil {
		s.shutdownGRPCServer(ctx)
	}

	return errors.Join(append(errs, s.release())...)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// release closes the tailnet node, the lockout tracker, and the store.
func (s *Server) release() error {
	var errs []error
	if s.node != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.node.Close())
	}
	if s.lockout != nil {
		s.lockout.Close()
	}
	errs = appendCloseError(errs, "store close", s.store.Close())
	return errors.Join(errs...)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
