// Package api exposes the operator surfaces of realmgate.
//
// # HTTP
//
// NewHandler returns a mux with:
//
//	GET    /health               liveness, always 200
//	GET    /health/ready         200 only while the gateway is Running
//	GET    /api/sessions         registry snapshot
//	DELETE /api/sessions/{id}    disconnect one session
//	GET    /api/realms           realm directory as ServerInfo entries
//	GET    /api/logins?limit=N   login audit trail, newest first
//
// Routes under /api/ require a Bearer JWT when Config.Verifier is set.
// The metrics handler is mounted at Config.MetricsPath without auth.
//
// # gRPC
//
// Health wraps grpc's health server and reports SERVING for "" and
// GatewayServiceName while the gateway is Running.
package api
