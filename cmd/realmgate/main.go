// ABOUTME: Entry point for the realmgate authentication gateway
// ABOUTME: Dispatches serve, init, account, realm, token, health, and sessions commands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/realmgate/internal/config"
	"github.com/2389/realmgate/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _                       _
  _ __ ___  __ _| |_ __ ___   __ _  __ _| |_ ___
 | '__/ _ \/ _' | | '_ ' _ \ / _' |/ _' | __/ _ \
 | | |  __/ (_| | | | | | | | (_| | (_| | ||  __/
 |_|  \___|\__,_|_|_| |_| |_|\__, |\__,_|\__\___|
                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: REALMGATE_CONFIG env var > XDG_CONFIG_HOME/realmgate/gateway.yaml > ~/.config/realmgate/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("REALMGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "realmgate", "gateway.yaml")
}

// getDataPath returns the path to the realmgate data directory.
// Priority: XDG_DATA_HOME/realmgate > ~/.local/share/realmgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "realmgate")
}

// getTokenPath returns where `realmgate token --save` writes and `sessions` reads.
func getTokenPath() string {
	return filepath.Join(filepath.Dir(getConfigPath()), "token")
}

func usage() {
	fmt.Println("Usage: realmgate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the gateway server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  account add NAME --password PW     Create an account [--subscription N] [--cd-key N]")
	fmt.Println("  account ban|unban NAME             Ban or unban an account")
	fmt.Println("  account list                       List accounts")
	fmt.Println("  realm add --id N --name NAME ...   Add or update a realm [--host H] [--port P] [--max-players N]")
	fmt.Println("  realm remove ID                    Remove a realm")
	fmt.Println("  realm list                         List realms")
	fmt.Println("  token --sub NAME [--ttl 24h]       Mint an operator API token [--save]")
	fmt.Println("  health                             Check gateway readiness")
	fmt.Println("  sessions                           List connected sessions")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "account":
		err = runAccount(ctx, os.Args[2:])
	case "realm":
		err = runRealm(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "sessions":
		err = runSessions(ctx)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:   %s:%d (%s frames)\n", cfg.Server.BindAddress, cfg.Server.Port, cfg.Server.FrameSize)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! operator API is unauthenticated (auth.jwt_secret not set)")
	}

	fmt.Println()

	logger.Info("starting realmgate",
		"config", configPath,
		"port", cfg.Server.Port,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}
