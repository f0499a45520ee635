// ABOUTME: TCP listener construction with an explicit accept backlog
// ABOUTME: Resolves bind addresses and delegates to the platform-specific socket setup

package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// DefaultBacklog is the pending-connection queue length used when none is configured.
const DefaultBacklog = 100

// JoinHostPort formats a bind address, treating an empty host as all interfaces.
func JoinHostPort(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Listen binds a TCP listener on address with the given backlog.
// A backlog of zero or less selects DefaultBacklog.
func Listen(ctx context.Context, address string, backlog int) (net.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", address, err)
	}

	ln, err := listenBacklog(ctx, tcpAddr, backlog)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return ln, nil
}
