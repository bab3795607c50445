package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dlmsbridge/bridge/internal/logger"
	"github.com/dlmsbridge/bridge/internal/store/migrations"
)

// RunMigrations applies the versioned PostgreSQL schema in
// internal/store/migrations via golang-migrate. It is a no-op (and
// unsupported) for the SQLite backend, which relies on GORM's AutoMigrate.
func RunMigrations(ctx context.Context, cfg *Config) error {
	if cfg.Type != DatabaseTypePostgres {
		return nil
	}

	db, err := sql.Open("pgx", cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("store: open migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping migration connection: %w", err)
	}

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    cfg.Postgres.Database,
	})
	if err != nil {
		return fmt.Errorf("store: create postgres migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("store: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		logger.Info("schema migrations applied", "version", version, "dirty", dirty)
	}
	return nil
}
