// Command migrate manages the onboarding schema (sessions, tenants,
// subscriptions and the processed-event ledger) with goose. The SQL files
// are embedded from the migrations package, so the binary needs no checkout.
//
//	migrate [-timeout 2m] up | down | status | version | redo | up-to N | down-to N
//
// DATABASE_URL is read from the environment or a local .env file.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/propline/onboarding/internal/logging"
	"github.com/propline/onboarding/migrations"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "abort if the command has not finished in this time")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate [-timeout d] <up|down|status|version|redo|up-to N|down-to N>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, os.Getenv("DATABASE_URL"), flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("schema migration failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
	logger.Info("schema migration finished", "command", flag.Arg(0))
}

func run(ctx context.Context, dsn, command string, args []string) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.RunContext(ctx, command, db, ".", args...)
}
