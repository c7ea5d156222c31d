// migrate applies the record store's schema migrations.
//
// Usage:
//
//	migrate           apply pending migrations
//	migrate -status   list pending migrations and exit non-zero if any
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anatolykoptev/go-kit/env"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
	"github.com/anatolykoptev/go_transcribe/internal/engine/store"
)

func main() {
	status := flag.Bool("status", false, "list pending migrations without applying them")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := engine.LoadConfig(env.Str("CONFIG_FILE", ""))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, *status, logger); err != nil {
		logger.Error("migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg engine.Config, statusOnly bool, logger *slog.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if statusOnly {
		pending, err := store.Pending(ctx, db)
		if err != nil {
			return err
		}
		for _, name := range pending {
			fmt.Println(name)
		}
		if len(pending) > 0 {
			return fmt.Errorf("%d pending migrations", len(pending))
		}
		logger.Info("schema up to date")
		return nil
	}

	applied, err := store.Migrate(ctx, db, logger)
	if err != nil {
		return err
	}
	logger.Info("migrations done", slog.Int("applied", len(applied)))
	return nil
}
