package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/g960059/osrelay/internal/auth"
	"github.com/g960059/osrelay/internal/clock"
	"github.com/g960059/osrelay/internal/config"
	"github.com/g960059/osrelay/internal/db"
)

const usage = `usage: osrelayctl <command> [flags]

commands:
  migrate   apply pending schema migrations
  token     issue a browser token for a user
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "migrate":
		err = runMigrate(ctx, args[1:], stdout)
	case "token":
		err = runToken(args[1:], stdout)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "osrelayctl: %v\n", err)
		return 1
	}
	return 0
}

func newFlags(name string, configPath *string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("osrelayctl "+name, pflag.ContinueOnError)
	flags.StringVarP(configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	return flags
}

func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	var configPath, dbPath string
	flags := newFlags("migrate", &configPath)
	flags.StringVar(&dbPath, "db", "", "SQLite path (overrides config)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		return err
	}
	version, err := db.AppliedVersion(ctx, store.DB())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "schema at version %d (%s)\n", version, cfg.DBPath)
	return nil
}

func runToken(args []string, stdout io.Writer) error {
	var (
		configPath string
		userID     string
		ttl        time.Duration
	)
	flags := newFlags("token", &configPath)
	flags.StringVar(&userID, "user", "", "user id to embed in the token")
	flags.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("--user is required")
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}
	cfg, err := config.Load(configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	identity, err := auth.NewIdentity(cfg.JWTSecret, clock.Real())
	if err != nil {
		return err
	}
	token, err := identity.IssueToken(userID, ttl)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, token)
	return nil
}
