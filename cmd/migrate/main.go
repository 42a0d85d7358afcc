// Command migrate manages the driftmail database schema with golang-migrate.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/driftmail/driftmail/internal/config"
)

const migrationTimeout = 5 * time.Minute

func main() {
	migrPath := flag.String("path", envOr("MIGRATIONS_PATH", "migrations"), "Path to migrations directory")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Apply all or N down migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  drop         Drop all tables (use with extreme caution)\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDatabase connection comes from the DB_* environment variables.\n")
	}

	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.Load()
	if err := runCommand(&cfg.Database, *migrPath, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runCommand(db *config.DatabaseConfig, migrPath, cmd string, args []string) error {
	m, err := newMigrate(db, migrPath)
	if err != nil {
		return err
	}
	defer m.Close()

	switch cmd {
	case "up":
		steps, err := parseSteps(args)
		if err != nil {
			return err
		}
		return logNoChange(stepOrAll(m, steps, true), "No migrations to apply")
	case "down":
		steps, err := parseSteps(args)
		if err != nil {
			return err
		}
		return logNoChange(stepOrAll(m, steps, false), "No migrations to rollback")
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("No migrations have been applied yet")
				return nil
			}
			return fmt.Errorf("failed to get version: %w", err)
		}
		status := ""
		if dirty {
			status = " (dirty)"
		}
		log.Printf("Current migration version: %d%s", version, status)
		return nil
	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force requires a version number")
		}
		var version int
		if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		log.Printf("Version forced to %d", version)
		return nil
	case "drop":
		log.Println("WARNING: This will drop ALL tables in the database!")
		log.Println("Type 'yes' to confirm:")
		var confirm string
		if _, err := fmt.Scanln(&confirm); err != nil || confirm != "yes" {
			log.Println("Aborted")
			return nil
		}
		if err := m.Drop(); err != nil {
			return fmt.Errorf("drop failed: %w", err)
		}
		log.Println("All tables dropped")
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	var steps int
	if _, err := fmt.Sscanf(args[0], "%d", &steps); err != nil {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return steps, nil
}

// stepOrAll runs N steps in the given direction, or the full distance when
// steps is zero.
func stepOrAll(m *migrate.Migrate, steps int, up bool) error {
	switch {
	case steps > 0 && up:
		return m.Steps(steps)
	case steps > 0:
		return m.Steps(-steps)
	case up:
		return m.Up()
	default:
		return m.Down()
	}
}

func logNoChange(err error, msg string) error {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println(msg)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migration completed")
	return nil
}

// newMigrate opens the database and builds a migrate instance over the
// file-based migration source.
func newMigrate(db *config.DatabaseConfig, migrPath string) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), migrationTimeout)
	defer cancel()

	conn, err := sql.Open("pgx", db.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(conn, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	absPath, err := filepath.Abs(migrPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = migrationTimeout

	return m, nil
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
