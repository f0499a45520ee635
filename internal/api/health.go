// ABOUTME: gRPC health service whose serving status follows the gateway state
// ABOUTME: SERVING while the gateway is Running, NOT_SERVING otherwise

package api

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/realmgate/internal/gateway"
)

// GatewayServiceName is the health service name reported alongside the overall "" entry
const GatewayServiceName = "realmgate.Gateway"

// StateSource reports the gateway state and its transitions
type StateSource interface {
	State() gateway.State
	OnStateChange(fn func(gateway.State))
}

// Health tracks gateway state in a grpc health server.
type Health struct {
	server *health.Server
}

// NewHealth creates a health server seeded with the current gateway state and
// subscribed to later transitions.
func NewHealth(src StateSource) *Health {
	h := &Health{server: health.NewServer()}
	h.set(src.State())
	src.OnStateChange(h.set)
	return h
}

func (h *Health) set(state gateway.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == gateway.StateRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(GatewayServiceName, status)
}

// Register adds the health service to srv.
func (h *Health) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Shutdown sets every service to NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}

// NewGRPCServer returns a grpc server exposing only the health service.
func NewGRPCServer(h *Health, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	h.Register(srv)
	return srv
}
