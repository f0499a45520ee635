// ABOUTME: Offline administration commands that edit the store directly
// ABOUTME: account add|ban|unban|list, realm add|remove|list, and token minting

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/realmgate/internal/auth"
	"github.com/2389/realmgate/internal/store"
)

// DefaultTokenTTL is the lifetime of tokens minted without --ttl
const DefaultTokenTTL = 24 * time.Hour

func openStore() (*store.SQLiteStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runAccount(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: realmgate account add|ban|unban|list")
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "add":
		return accountAdd(ctx, s, args[1:], os.Stdout)
	case "ban":
		return accountSetBanned(ctx, s, args[1:], true, os.Stdout)
	case "unban":
		return accountSetBanned(ctx, s, args[1:], false, os.Stdout)
	case "list":
		return accountList(ctx, s, os.Stdout)
	default:
		return fmt.Errorf("unknown account command: %s", args[0])
	}
}

func accountAdd(ctx context.Context, s store.AccountStore, args []string, out io.Writer) error {
	p, err := parseArgs(args, []string{"password", "subscription", "cd-key"}, nil)
	if err != nil {
		return err
	}
	if len(p.positionals) != 1 {
		return errors.New("usage: realmgate account add NAME --password PW [--subscription N] [--cd-key N]")
	}
	username := p.positionals[0]

	password := p.str("password")
	if password == "" {
		password = os.Getenv("REALMGATE_PASSWORD")
	}
	if password == "" {
		return errors.New("--password (or REALMGATE_PASSWORD) is required")
	}

	subscription, err := p.uintFlag("subscription", 32, 0)
	if err != nil {
		return err
	}
	cdKey, err := p.uintFlag("cd-key", 16, 0)
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	account := &store.Account{
		Username:     username,
		PasswordHash: hash,
		Subscription: uint32(subscription),
		CDKey:        uint16(cdKey),
	}
	if err := s.CreateAccount(ctx, account); err != nil {
		return fmt.Errorf("creating account: %w", err)
	}

	color.New(color.FgGreen).Fprintf(out, "  ✓ Created account %s (%s)\n", username, account.ID)
	return nil
}

func accountSetBanned(ctx context.Context, s store.AccountStore, args []string, banned bool, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: realmgate account ban|unban NAME")
	}
	if err := s.SetAccountBanned(ctx, args[0], banned); err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	verb := "Unbanned"
	if banned {
		verb = "Banned"
	}
	color.New(color.FgGreen).Fprintf(out, "  ✓ %s %s\n", verb, args[0])
	return nil
}

func accountList(ctx context.Context, s store.AccountStore, out io.Writer) error {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tSUBSCRIPTION\tCD KEY\tBANNED\tLAST LOGIN")
	for _, a := range accounts {
		lastLogin := "never"
		if a.LastLoginAt != nil {
			lastLogin = a.LastLoginAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%#x\t%d\t%t\t%s\n", a.Username, a.Subscription, a.CDKey, a.Banned, lastLogin)
	}
	return tw.Flush()
}

func runRealm(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: realmgate realm add|remove|list")
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "add":
		return realmAdd(ctx, s, args[1:], os.Stdout)
	case "remove":
		return realmRemove(ctx, s, args[1:], os.Stdout)
	case "list":
		return realmList(ctx, s, os.Stdout)
	default:
		return fmt.Errorf("unknown realm command: %s", args[0])
	}
}

func realmAdd(ctx context.Context, s store.RealmStore, args []string, out io.Writer) error {
	p, err := parseArgs(args,
		[]string{"id", "name", "host", "port", "age-limit", "players", "max-players"},
		[]string{"pk", "offline"},
	)
	if err != nil {
		return err
	}
	if !p.has("id") || p.str("name") == "" {
		return errors.New("usage: realmgate realm add --id N --name NAME [--host H] [--port P] [--age-limit N] [--players N] [--max-players N] [--pk] [--offline]")
	}

	id, err := p.uintFlag("id", 8, 0)
	if err != nil {
		return err
	}
	port, err := p.intFlag("port", 8085)
	if err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535, got %d", port)
	}
	ageLimit, err := p.uintFlag("age-limit", 8, 0)
	if err != nil {
		return err
	}
	players, err := p.intFlag("players", 0)
	if err != nil {
		return err
	}
	maxPlayers, err := p.intFlag("max-players", 0)
	if err != nil {
		return err
	}
	if players < 0 || maxPlayers < 0 {
		return errors.New("--players and --max-players must not be negative")
	}

	host := p.str("host")
	if host == "" {
		host = "127.0.0.1"
	}

	realm := &store.Realm{
		ID:             uint8(id),
		Name:           p.str("name"),
		Host:           host,
		Port:           port,
		AgeLimit:       uint8(ageLimit),
		PKFlag:         p.switches["pk"],
		CurrentPlayers: players,
		MaxPlayers:     maxPlayers,
		Online:         !p.switches["offline"],
	}
	if err := s.UpsertRealm(ctx, realm); err != nil {
		return fmt.Errorf("saving realm: %w", err)
	}

	color.New(color.FgGreen).Fprintf(out, "  ✓ Saved realm %d (%s) at %s:%d\n", realm.ID, realm.Name, realm.Host, realm.Port)
	return nil
}

func realmRemove(ctx context.Context, s store.RealmStore, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: realmgate realm remove ID")
	}
	id, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("realm ID %q must be 0-255", args[0])
	}
	if err := s.DeleteRealm(ctx, uint8(id)); err != nil {
		return fmt.Errorf("removing realm: %w", err)
	}
	color.New(color.FgGreen).Fprintf(out, "  ✓ Removed realm %d\n", id)
	return nil
}

func realmList(ctx context.Context, s store.RealmStore, out io.Writer) error {
	realms, err := s.ListRealms(ctx)
	if err != nil {
		return fmt.Errorf("listing realms: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tPLAYERS\tAGE\tPK\tSTATUS")
	for _, r := range realms {
		status := "online"
		switch {
		case !r.Online:
			status = "offline"
		case r.Full():
			status = "full"
		}
		players := strconv.Itoa(r.CurrentPlayers)
		if r.MaxPlayers > 0 {
			players += "/" + strconv.Itoa(r.MaxPlayers)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s:%d\t%s\t%d\t%t\t%s\n", r.ID, r.Name, r.Host, r.Port, players, r.AgeLimit, r.PKFlag, status)
	}
	return tw.Flush()
}

func runToken(args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured; the operator API is unauthenticated")
	}
	return mintToken([]byte(cfg.Auth.JWTSecret), args, getTokenPath(), os.Stdout)
}

func mintToken(secret []byte, args []string, tokenPath string, out io.Writer) error {
	p, err := parseArgs(args, []string{"sub", "ttl"}, []string{"save"})
	if err != nil {
		return err
	}
	sub := p.str("sub")
	if sub == "" {
		return errors.New("--sub is required")
	}

	ttl := DefaultTokenTTL
	if raw := p.str("ttl"); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("--ttl: %w", err)
		}
		if ttl <= 0 {
			return errors.New("--ttl must be positive")
		}
	}

	verifier, err := auth.NewJWTVerifier(secret)
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(sub, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	if p.switches["save"] {
		if err := os.MkdirAll(filepath.Dir(tokenPath), 0755); err != nil {
			return fmt.Errorf("creating token directory: %w", err)
		}
		if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
			return fmt.Errorf("writing token file: %w", err)
		}
		color.New(color.FgGreen).Fprintf(out, "  ✓ Saved token: %s (expires %s)\n", tokenPath, time.Now().Add(ttl).Format(time.DateTime))
		return nil
	}

	fmt.Fprintln(out, token)
	return nil
}
