// Command migrate applies the SQL schema in migrations/ to the configured database.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/infrastructure/config"
	"github.com/buildops/backend/internal/infrastructure/logger"
	"github.com/buildops/backend/internal/infrastructure/migration"
)

const defaultMigrationsPath = "migrations"

func main() {
	var (
		migrationsPath string
		logLevel       string
	)
	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory (default: ./migrations)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = logLevel
	logCfg.Service = "buildops-migrate"
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log, resolvePath(migrationsPath), args[0], args[1:]); err != nil {
		log.Error("Migration command failed", zap.String("command", args[0]), zap.Error(err))
		if errors.Is(err, migration.ErrUsage) {
			printUsage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(log *zap.Logger, migrationsPath, command string, args []string) error {
	log.Info("Migration CLI started", zap.String("command", command), zap.String("migrations_path", migrationsPath))

	switch command {
	case "create":
		if len(args) < 1 {
			return fmt.Errorf("%w: usage: migrate create <name> [description]", migration.ErrUsage)
		}
		description := ""
		if len(args) > 1 {
			description = args[1]
		}
		mf, err := migration.CreateMigration(migrationsPath, args[0], description)
		if err != nil {
			return err
		}
		log.Info("Migration created", zap.String("up", mf.UpPath), zap.String("down", mf.DownPath))
		return nil
	case "list":
		names, err := migration.ListMigrations(migrationsPath)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := migration.New(db, migrationsPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Run(command, args)
}

// resolvePath prefers an explicit path, then ./migrations, then the directory
// two levels above the executable.
func resolvePath(explicit string) string {
	path := explicit
	if path == "" {
		path = defaultMigrationsPath
		if _, err := os.Stat(path); err != nil {
			if exe, err := os.Executable(); err == nil {
				candidate := filepath.Join(filepath.Dir(exe), "..", "..", defaultMigrationsPath)
				if _, err := os.Stat(candidate); err == nil {
					path = candidate
				}
			}
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func printUsage() {
	fmt.Fprint(os.Stderr, `BuildOps schema migration tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  steps <n>             Apply n migrations (negative rolls back)
  goto <version>        Migrate to a specific version
  version               Show the applied version
  force <version>       Set the version without migrating (clears a dirty state)
  create <name> [desc]  Create an empty up/down pair
  list                  List available migrations

Flags:
  -path string          Path to migrations directory (default: ./migrations)
  -log-level string     debug, info, warn or error (default: info)

Database settings come from config.toml or BUILDOPS_DATABASE_* variables.
`)
}
