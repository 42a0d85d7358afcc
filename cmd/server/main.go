package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/driftmail/driftmail/internal/config"
	"github.com/driftmail/driftmail/internal/ingest"
	"github.com/driftmail/driftmail/internal/logger"
	"github.com/driftmail/driftmail/internal/mailbox"
	"github.com/driftmail/driftmail/internal/metrics"
	appmw "github.com/driftmail/driftmail/internal/middleware"
	"github.com/driftmail/driftmail/internal/repository"
	"github.com/driftmail/driftmail/internal/sanitizer"
	"github.com/driftmail/driftmail/internal/storage"
	"github.com/driftmail/driftmail/internal/sweeper"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())

	db, err := setupDatabase(cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to database",
		"host", cfg.Database.Host,
		"database", cfg.Database.DBName,
	)

	blobStore, err := storage.NewStorageService(&cfg.Storage)
	if err != nil {
		log.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}

	// Repositories
	emailRepo := repository.NewEmailRepo(db)
	attachmentRepo := repository.NewAttachmentRepository(db)

	// Services
	filter := ingest.NewFilter(&cfg.Inbox)
	pipeline := ingest.NewPipeline(emailRepo, attachmentRepo, blobStore, filter, log)
	mailboxService := mailbox.NewService(emailRepo, attachmentRepo, blobStore, sanitizer.NewHTMLSanitizer(), log)
	sweep := sweeper.New(emailRepo, attachmentRepo, blobStore, cfg.Retention.Window, log)

	// Handlers
	ingestHandler := ingest.NewHandler(pipeline, log)
	mailboxHandler := mailbox.NewHandler(mailboxService, sweep, log)

	// DB pool stats
	statsCollector := metrics.NewDBStatsCollector(db.DB, log)
	statsCollector.Start(15 * time.Second)
	defer statsCollector.Stop()

	// Router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(appmw.StructuredLogger(log))
	r.Use(metrics.Middleware)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dbStatus := "up"
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "down"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","database":"%s"}`, dbStatus)
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		ingest.RegisterRoutes(r, ingestHandler)
		mailbox.RegisterRoutes(r, mailboxHandler)
	})

	// Background retention sweeps
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()
	go runRetentionSweeps(sweepCtx, sweep, cfg.Retention.SweepInterval, log)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	stopSweeps()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	// Let in-flight attachment tails land before the process exits
	pipeline.Wait()

	log.Info("server exited")
}

// runRetentionSweeps runs SweepExpired on a fixed interval until ctx ends
func runRetentionSweeps(ctx context.Context, sweep *sweeper.Sweeper, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := sweep.SweepExpired(ctx)
			if err != nil {
				log.Error("retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("retention sweep removed emails", "count", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}

// setupDatabase opens and verifies the database connection pool
func setupDatabase(cfg *config.Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlx.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
