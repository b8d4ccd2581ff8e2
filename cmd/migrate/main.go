// Command migrate applies (or rolls back one step of) the database schema.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/aperta-labs/bloghound/internal/adapter/repo/postgres"
	"github.com/aperta-labs/bloghound/internal/config"
)

func main() {
	down := flag.Bool("down", false, "roll back one migration step instead of applying pending migrations")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if *down {
		if err := postgres.MigrateDown(cfg.DBURL); err != nil {
			slog.Error("migration rollback failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("migration rollback complete")
		return
	}

	if err := postgres.Migrate(cfg.DBURL); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("migrations applied")
}
