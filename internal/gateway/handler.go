// ABOUTME: Per-session handler contract run on its own goroutine after accept
// ABOUTME: The default handler drains frames until the peer goes away

package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/2389/realmgate/internal/session"
)

// Handler drives one session after it has been registered. When
// ServeSession returns, the gateway removes the session.
type Handler interface {
	ServeSession(ctx context.Context, s *session.Session) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, s *session.Session) error

func (f HandlerFunc) ServeSession(ctx context.Context, s *session.Session) error {
	return f(ctx, s)
}

// drainHandler reads and discards frames. Protocol handshakes are layered on
// top by supplying a real Handler.
type drainHandler struct{}

func (drainHandler) ServeSession(ctx context.Context, s *session.Session) error {
	for {
		if _, err := s.Receive(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// isDisconnect reports whether err is an ordinary end of a session.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
