// ABOUTME: Listener fallback for platforms without unix socket calls
// ABOUTME: The runtime chooses the backlog there

//go:build !unix

package transport

import (
	"context"
	"net"
)

func listenBacklog(ctx context.Context, addr *net.TCPAddr, _ int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr.String())
}
