// Package config handles configuration loading for realmgate.
//
// # Overview
//
// Configuration is loaded from YAML (gopkg.in/yaml.v3) or TOML
// (BurntSushi/toml, selected by a .toml extension) with environment
// variable expansion, defaults, and validation.
//
// # Configuration File
//
// Default locations (in order), resolved by cmd/realmgate:
//
//  1. Path from REALMGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/realmgate/gateway.yaml
//  3. ~/.config/realmgate/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${REALMGATE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Game-facing listener and operator surfaces:
//
//	server:
//	  bind_address: "0.0.0.0"     # default
//	  port: 3724                  # required unless tailscale is enabled
//	  backlog: 100                # listen(2) backlog, default 100
//	  max_sessions: 5000          # 0 = unbounded
//	  frame_size: "word"          # word (uint16 prefix) or dword (uint32 prefix)
//	  max_message_size: 0         # 0 = prefix limit (word) or 1 MiB (dword)
//	  shutdown_timeout: "10s"
//	  http_addr: "127.0.0.1:8080" # health, operator API, metrics
//	  grpc_addr: "127.0.0.1:50051" # grpc.health.v1
//
// Tailnet listener:
//
//	tailscale:
//	  enabled: true
//	  hostname: "realmgate"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: ""               # default ~/.local/share/realmgate/tailscale
//	  ephemeral: false
//
// Database:
//
//	database:
//	  path: "/var/lib/realmgate/realmgate.db"
//
// Login policy and operator API:
//
//	auth:
//	  jwt_secret: "${REALMGATE_JWT_SECRET}"
//	  max_failed_logins: 5        # negative disables lockout
//	  lockout_window: "15m"
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json, or anything else for colorized output
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
