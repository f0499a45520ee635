// Package gateway implements the realmgate accept loop and session lifecycle.
//
// # Overview
//
// A Gateway binds a TCP endpoint, accepts connections continuously, wraps
// each one in a session.Session, registers it, and runs a Handler for it on
// its own goroutine. Identity and credential decisions are delegated to an
// auth.Policy passed to New.
//
//	gw := gateway.New(policy, gateway.Options{Logger: logger})
//	gw.OnConnect(func(s *session.Session) { ... })
//	err := gw.Start("0.0.0.0", 3724) // blocks until Stop
//
// # Lifecycle
//
// States move Stopped -> Starting -> Running -> Stopping -> Stopped.
//
//   - Start returns nil after Stop, a *BindError (errors.Is ErrBind) when the
//     socket cannot be created, or an error when the listener dies on its own.
//   - Stop closes the listener to unblock Accept and waits for the loop to
//     exit. It is idempotent and Start may bind again afterwards.
//   - Shutdown is Stop plus a bounded wait for session handlers; sessions
//     left when its context ends are force-closed.
//   - Run ties Start to a context.
//
// # Sessions
//
// On-connect subscribers run on the accept goroutine in acceptance order.
// On-disconnect subscribers run exactly once per session, from whichever
// goroutine called Remove. Callbacks must not call Stop or Shutdown.
//
// A registry capacity (Options.MaxSessions) turns excess connections away:
// they are closed immediately and reported to Options.OnAcceptError wrapping
// session.ErrRegistryFull.
//
// Accept errors that are not caused by Stop back off from 5ms up to 1s.
package gateway
