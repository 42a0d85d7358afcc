// Command sweeper runs one retention sweep and exits. Intended for cron or a
// Kubernetes CronJob; the server also sweeps on its own interval, so this is
// for deployments that want deletion out of the serving path.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/driftmail/driftmail/internal/config"
	"github.com/driftmail/driftmail/internal/logger"
	"github.com/driftmail/driftmail/internal/repository"
	"github.com/driftmail/driftmail/internal/storage"
	"github.com/driftmail/driftmail/internal/sweeper"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())

	db, err := openDatabase(cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	blobStore, err := storage.NewStorageService(&cfg.Storage)
	if err != nil {
		log.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}

	sweep := sweeper.New(
		repository.NewEmailRepo(db),
		repository.NewAttachmentRepository(db),
		blobStore,
		cfg.Retention.Window,
		log,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	deleted, err := sweep.SweepExpired(ctx)
	if err != nil {
		log.Error("retention sweep failed", "error", err)
		os.Exit(1)
	}

	log.Info("retention sweep finished", "emails_deleted", deleted, "window", cfg.Retention.Window)
}

func openDatabase(cfg *config.Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlx.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
