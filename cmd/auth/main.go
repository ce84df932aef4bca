// Command auth manages session tokens for the pipeline API.
//
// Usage:
//
//	auth [-config configs/development.yaml] create --owner <id> [--name ui] [--role user|superadmin] [--rate-limit 100] [--expires-in 720h]
//	auth revoke --token <raw-token>
//	auth list [--owner <id>]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	validator := apikey.NewValidator(db)
	ctx := context.Background()

	switch args[0] {
	case "create":
		err = cmdCreate(ctx, validator, args[1:])
	case "revoke":
		err = cmdRevoke(ctx, validator, args[1:])
	case "list":
		err = cmdList(ctx, validator, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func cmdCreate(ctx context.Context, v *apikey.Validator, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id the token acts for (required)")
	name := fs.String("name", "", "label for the token")
	role := fs.String("role", "user", "user or superadmin")
	rateLimit := fs.Int("rate-limit", apikey.DefaultRateLimit, "requests per minute")
	expiresIn := fs.String("expires-in", "", "expiry duration, e.g. 720h (optional)")
	fs.Parse(args)

	if *owner == "" {
		return fmt.Errorf("--owner is required")
	}
	if *role != "user" && *role != auth.RoleSuperadmin {
		return fmt.Errorf("--role must be user or %s", auth.RoleSuperadmin)
	}
	if *name == "" {
		*name = *owner
	}

	var expiresAt *time.Time
	if *expiresIn != "" {
		d, err := time.ParseDuration(*expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in: %w", err)
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	token, err := v.CreateKey(ctx, apikey.NewKey{
		Name:      *name,
		OwnerID:   *owner,
		Role:      *role,
		RateLimit: *rateLimit,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return err
	}

	fmt.Println("Session token created. It is shown only once.")
	fmt.Println()
	fmt.Printf("  Token:      %s\n", token)
	fmt.Printf("  Owner:      %s\n", *owner)
	fmt.Printf("  Role:       %s\n", *role)
	fmt.Printf("  Rate Limit: %d req/min\n", *rateLimit)
	if expiresAt != nil {
		fmt.Printf("  Expires:    %s\n", expiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("  Expires:    never")
	}
	return nil
}

func cmdRevoke(ctx context.Context, v *apikey.Validator, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	token := fs.String("token", "", "raw session token to revoke")
	fs.Parse(args)

	if *token == "" {
		return fmt.Errorf("--token is required")
	}
	if err := v.RevokeKey(ctx, *token); err != nil {
		return err
	}
	fmt.Println("Session token revoked.")
	return nil
}

func cmdList(ctx context.Context, v *apikey.Validator, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	owner := fs.String("owner", "", "only list tokens of this owner")
	fs.Parse(args)

	keys, err := v.ListKeys(ctx, *owner)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No active session tokens.")
		return nil
	}

	fmt.Printf("%-8s  %-24s  %-24s  %-10s  %-10s  %s\n", "ID", "Owner", "Name", "Role", "Rate Limit", "Expires")
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-8s  %-24s  %-24s  %-10s  %-10d  %s\n", k.ID, k.OwnerID, k.Name, k.Role, k.RateLimit, expires)
	}
	fmt.Printf("\nTotal: %d active token(s)\n", len(keys))
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: auth [-config path] <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  create   Issue a session token for an owner")
	fmt.Fprintln(os.Stderr, "  revoke   Revoke a session token")
	fmt.Fprintln(os.Stderr, "  list     List active session tokens")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, `  auth create --owner user-42 --rate-limit 60 --expires-in 720h`)
	fmt.Fprintln(os.Stderr, `  auth create --owner ops --role superadmin`)
	fmt.Fprintln(os.Stderr, `  auth revoke --token "abc123..."`)
	fmt.Fprintln(os.Stderr, `  auth list --owner user-42`)
}
