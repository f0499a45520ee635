// ABOUTME: Gateway accept loop, session lifecycle, and shutdown handling
// ABOUTME: Owns the listener and session registry and consults an auth.Policy

package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/2389/realmgate/internal/auth"
	"github.com/2389/realmgate/internal/session"
	"github.com/2389/realmgate/internal/transport"
)

// DefaultShutdownTimeout bounds Run's shutdown when Options.ShutdownTimeout is zero
const DefaultShutdownTimeout = 10 * time.Second

// Accept error backoff, doubling from min to max.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// MetricsRecorder receives session lifecycle events. Implementations must be
// safe for concurrent use.
type MetricsRecorder interface {
	RecordSessionAccepted()
	RecordSessionClosed()
	RecordSessionForceClosed()
	SetActiveSessions(count int)
	RecordAcceptError()
}

// ListenFunc creates the gateway listener. transport.Listen is the default.
type ListenFunc func(ctx context.Context, address string, backlog int) (net.Listener, error)

// Options configures a Gateway. The zero value is usable.
type Options struct {
	// Backlog is passed to listen(2). 0 means transport.DefaultBacklog.
	Backlog int

	// MaxSessions caps the registry. 0 means unbounded.
	MaxSessions int

	// Framing configures every accepted transport.
	Framing transport.Options

	// Entropy seeds session secrets. nil means crypto/rand.
	Entropy io.Reader

	// Handler drives each session. nil drains frames until disconnect.
	Handler Handler

	// OnAcceptError observes failed and rejected accepts. The loop continues.
	OnAcceptError func(error)

	Metrics MetricsRecorder

	// Listen replaces the TCP listener, e.g. with a tailnet one.
	Listen ListenFunc

	// ShutdownTimeout bounds the shutdown Run performs when its context ends.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Gateway accepts connections, registers each as a session, and hands it to
// the configured Handler.
type Gateway struct {
	policy          auth.Policy
	registry        *session.Registry
	handler         Handler
	framing         transport.Options
	backlog         int
	listen          ListenFunc
	onAcceptError   func(error)
	metrics         MetricsRecorder
	shutdownTimeout time.Duration
	logger          *slog.Logger

	entropyMu sync.Mutex
	entropy   io.Reader

	// mu guards the lifecycle fields below
	mu       sync.Mutex
	state    State
	listener net.Listener
	stop     chan struct{}
	done     chan struct{}

	// notifyMu orders state notifications
	notifyMu sync.Mutex

	subMu        sync.RWMutex
	onConnect    []func(*session.Session)
	onDisconnect []func(*session.Session)
	onState      []func(State)

	handlers sync.WaitGroup
}

var _ session.Owner = (*Gateway)(nil)

// New creates a stopped gateway. It panics if policy is nil.
func New(policy auth.Policy, opts Options) *Gateway {
	if policy == nil {
		panic("gateway: nil policy")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	entropy := opts.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	handler := opts.Handler
	if handler == nil {
		handler = drainHandler{}
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = transport.DefaultBacklog
	}
	listen := opts.Listen
	if listen == nil {
		listen = transport.Listen
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	return &Gateway{
		policy:          policy,
		registry:        session.NewRegistry(opts.MaxSessions),
		handler:         handler,
		framing:         opts.Framing,
		backlog:         backlog,
		listen:          listen,
		onAcceptError:   opts.OnAcceptError,
		metrics:         metrics,
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With("component", "gateway"),
		entropy:         entropy,
	}
}

// run holds the channels of one Start invocation.
type run struct {
	stop chan struct{}
	done chan struct{}
}

// Start binds host:port and accepts connections until Stop is called.
// It returns nil after Stop, a *BindError if the socket could not be
// created, or an error if the listener dies on its own.
func (g *Gateway) Start(host string, port int) error {
	r, err := g.begin()
	if err != nil {
		return err
	}
	return g.serve(context.Background(), r, host, port)
}

// Run is Start bound to ctx. When ctx ends the gateway shuts down within
// Options.ShutdownTimeout.
func (g *Gateway) Run(ctx context.Context, host string, port int) error {
	r, err := g.begin()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- g.serve(ctx, r, host, port) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	g.logger.Info("context canceled, shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if err := <-errCh; err != nil {
		return err
	}
	return shutdownErr
}

func (g *Gateway) begin() (*run, error) {
	g.mu.Lock()
	if g.state != StateStopped {
		g.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r := &run{stop: make(chan struct{}), done: make(chan struct{})}
	g.stop, g.done = r.stop, r.done
	g.setStateAndUnlock(StateStarting)
	return r, nil
}

func (g *Gateway) serve(ctx context.Context, r *run, host string, port int) error {
	defer g.finish(r)

	addr := transport.JoinHostPort(host, port)
	ln, err := g.listen(ctx, addr, g.backlog)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			g.logger.Info("context canceled before bind", "addr", addr)
			return nil
		}
		g.logger.Error("bind failed", "addr", addr, "error", err)
		return &BindError{Addr: addr, Err: err}
	}

	g.mu.Lock()
	select {
	case <-r.stop:
		// Stopped while binding.
		g.mu.Unlock()
		_ = ln.Close()
		return nil
	default:
	}
	g.listener = ln
	g.setStateAndUnlock(StateRunning)

	g.logger.Info("gateway listening", "addr", ln.Addr().String(), "backlog", g.backlog)
	return g.acceptLoop(ln, r.stop)
}

func (g *Gateway) finish(r *run) {
	g.mu.Lock()
	if g.listener != nil {
		_ = g.listener.Close()
	}
	g.listener = nil
	g.stop, g.done = nil, nil
	g.setStateAndUnlock(StateStopped)
	close(r.done)
}

func (g *Gateway) acceptLoop(ln net.Listener, stop <-chan struct{}) error {
	var delay time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			// Closing the listener is how Stop unblocks Accept.
			select {
			case <-stop:
				return nil
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				g.logger.Error("listener closed unexpectedly", "error", err)
				return fmt.Errorf("accepting connections: %w", err)
			}

			g.reportAcceptError(fmt.Errorf("accepting connection: %w", err))
			delay = nextAcceptDelay(delay)
			select {
			case <-time.After(delay):
			case <-stop:
				return nil
			}
			continue
		}
		delay = 0
		g.admit(raw)
	}
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}

// admit registers raw as a session, fires on-connect, and starts its handler.
func (g *Gateway) admit(raw net.Conn) {
	if tcp, ok := raw.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			g.logger.Debug("failed to set TCP_NODELAY", "error", err)
		}
	}

	s := session.New(context.Background(), transport.NewConn(raw, g.framing), g)
	if err := g.registry.Add(s); err != nil {
		_ = s.Close()
		g.reportAcceptError(fmt.Errorf("rejecting connection from %s: %w", s.RemoteAddr(), err))
		return
	}

	active := g.registry.Len()
	g.metrics.RecordSessionAccepted()
	g.metrics.SetActiveSessions(active)
	g.logger.Debug("session accepted", "session_id", s.ID(), "remote_addr", s.RemoteAddr(), "active_sessions", active)

	for _, fn := range g.subscribers(&g.onConnect) {
		fn(s)
	}
	if s.ConnectDelivered() {
		// Removed while on-connect was running.
		g.notifyDisconnect(s)
		return
	}

	g.handlers.Add(1)
	go g.runHandler(s)
}

func (g *Gateway) runHandler(s *session.Session) {
	defer g.handlers.Done()
	defer g.Remove(s)

	if err := g.handler.ServeSession(s.Context(), s); err != nil && !isDisconnect(err) {
		g.logger.Warn("session handler failed", "session_id", s.ID(), "error", err)
	}
}

func (g *Gateway) reportAcceptError(err error) {
	g.logger.Warn("accept failed", "error", err)
	g.metrics.RecordAcceptError()
	if g.onAcceptError != nil {
		g.onAcceptError(err)
	}
}

// Stop closes the listener and waits for the accept loop to exit. Sessions
// already accepted stay registered. Stop is idempotent and safe to call
// concurrently with Start; it must not be called from a connect,
// disconnect, or state callback.
func (g *Gateway) Stop() {
	g.mu.Lock()
	switch g.state {
	case StateStopped:
		g.mu.Unlock()
		return
	case StateStopping:
		done := g.done
		g.mu.Unlock()
		<-done
		return
	}

	close(g.stop)
	ln, done := g.listener, g.done
	g.setStateAndUnlock(StateStopping)

	if ln != nil {
		if err := ln.Close(); err != nil {
			g.logger.Debug("error closing listener", "error", err)
		}
	}
	<-done
	g.logger.Info("gateway stopped", "active_sessions", g.registry.Len())
}

// Shutdown stops accepting, interrupts every session, and waits for their
// handlers to return. Sessions still open when ctx ends are force-closed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.Stop()

	sessions := g.registry.Snapshot()
	g.logger.Info("waiting for sessions to finish", "active_sessions", len(sessions))
	for _, s := range sessions {
		s.Interrupt()
	}

	done := make(chan struct{})
	go func() {
		g.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("gateway shutdown complete")
		return nil
	case <-ctx.Done():
		remaining := g.registry.Snapshot()
		g.logger.Warn("shutdown timeout exceeded, forcing closure", "active_sessions", len(remaining))
		forced := 0
		for _, s := range remaining {
			if g.remove(s) {
				forced++
				g.metrics.RecordSessionForceClosed()
			}
		}
		return fmt.Errorf("gateway shutdown: %d sessions force-closed: %w", forced, ctx.Err())
	}
}

// Remove deregisters s, closes its transport, and fires on-disconnect.
// Removing a session that is not registered does nothing.
// On-disconnect never precedes on-connect for the same session.
func (g *Gateway) Remove(s *session.Session) {
	g.remove(s)
}

// remove reports whether s was registered.
func (g *Gateway) remove(s *session.Session) bool {
	if s == nil || !g.registry.Remove(s) {
		return false
	}
	_ = s.Close()

	active := g.registry.Len()
	g.metrics.RecordSessionClosed()
	g.metrics.SetActiveSessions(active)
	g.logger.Debug("session removed", "session_id", s.ID(), "remote_addr", s.RemoteAddr(), "active_sessions", active)

	if !s.DeferDisconnect() {
		g.notifyDisconnect(s)
	}
	return true
}

func (g *Gateway) notifyDisconnect(s *session.Session) {
	for _, fn := range g.subscribers(&g.onDisconnect) {
		fn(s)
	}
}

// IssueSecrets draws fresh secrets for s through the policy and records them
// on the session.
func (g *Gateway) IssueSecrets(s *session.Session) (session.Secrets, error) {
	g.entropyMu.Lock()
	sec, err := g.policy.GenerateSessionSecrets(g.entropy)
	g.entropyMu.Unlock()
	if err != nil {
		return session.Secrets{}, fmt.Errorf("issuing secrets for session %s: %w", s.ID(), err)
	}
	s.SetSecrets(sec)
	return sec, nil
}

// Policy returns the authentication policy sessions are checked against.
func (g *Gateway) Policy() auth.Policy { return g.policy }

// Sessions returns a snapshot of the registered sessions, oldest first.
func (g *Gateway) Sessions() []*session.Session { return g.registry.Snapshot() }

// Session looks up a registered session by ID.
func (g *Gateway) Session(id string) (*session.Session, bool) { return g.registry.Get(id) }

// ActiveSessions returns the number of registered sessions.
func (g *Gateway) ActiveSessions() int { return g.registry.Len() }

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Addr returns the listener address while running, or nil.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// OnConnect registers fn to run once per accepted session, in accept order.
func (g *Gateway) OnConnect(fn func(*session.Session)) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.onConnect = append(g.onConnect, fn)
}

// OnDisconnect registers fn to run once per removed session.
func (g *Gateway) OnDisconnect(fn func(*session.Session)) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.onDisconnect = append(g.onDisconnect, fn)
}

// OnStateChange registers fn to run on every lifecycle transition.
func (g *Gateway) OnStateChange(fn func(State)) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.onState = append(g.onState, fn)
}

func (g *Gateway) subscribers(list *[]func(*session.Session)) []func(*session.Session) {
	g.subMu.RLock()
	defer g.subMu.RUnlock()
	return slices.Clone(*list)
}

// setStateAndUnlock must be called with g.mu held. It releases g.mu before
// running state callbacks.
func (g *Gateway) setStateAndUnlock(s State) {
	g.state = s
	g.notifyMu.Lock()
	g.mu.Unlock()
	defer g.notifyMu.Unlock()

	g.subMu.RLock()
	fns := slices.Clone(g.onState)
	g.subMu.RUnlock()

	for _, fn := range fns {
		fn(s)
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordSessionAccepted()    {}
func (noopMetrics) RecordSessionClosed()      {}
func (noopMetrics) RecordSessionForceClosed() {}
func (noopMetrics) SetActiveSessions(int)     {}
func (noopMetrics) RecordAcceptError()        {}
