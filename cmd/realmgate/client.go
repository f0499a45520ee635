// ABOUTME: CLI commands that query a running gateway over its HTTP surface
// ABOUTME: health checks readiness; sessions lists the registry snapshot

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/2389/realmgate/internal/api"
)

func operatorBaseURL() (string, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Server.HTTPAddr == "" {
		return "", errors.New("server.http_addr is not configured")
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}

// loadToken returns REALMGATE_TOKEN or the saved token file, trimmed.
func loadToken(tokenPath string) string {
	if tok := os.Getenv("REALMGATE_TOKEN"); tok != "" {
		return tok
	}
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func runHealth(ctx context.Context) error {
	base, err := operatorBaseURL()
	if err != nil {
		return err
	}
	return checkHealth(ctx, http.DefaultClient, base, os.Stdout)
}

func checkHealth(ctx context.Context, client *http.Client, base string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintln(out, string(body))
	return nil
}

func runSessions(ctx context.Context) error {
	base, err := operatorBaseURL()
	if err != nil {
		return err
	}
	return listSessions(ctx, http.DefaultClient, base, loadToken(getTokenPath()), os.Stdout)
}

func listSessions(ctx context.Context, client *http.Client, base, token string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/sessions", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("unauthorized: run `realmgate token --sub NAME --save` or set REALMGATE_TOKEN")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing sessions: status %d", resp.StatusCode)
	}

	var list api.ListSessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Fprintf(out, "gateway %s, %d session(s)\n", list.State, list.Count)
	if len(list.Sessions) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREMOTE\tCONNECTED\tSECRETS")
	for _, s := range list.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", s.ID, s.RemoteAddr, time.Since(s.AcceptedAt).Truncate(time.Second), s.HasSecrets)
	}
	return tw.Flush()
}
