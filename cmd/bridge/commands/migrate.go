package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dlmsbridge/bridge/internal/config"
	"github.com/dlmsbridge/bridge/internal/logger"
	"github.com/dlmsbridge/bridge/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending schema migrations to the configured catalogue
database.

For SQLite this is a no-op (the catalogue relies on GORM's automatic schema
migration instead); for PostgreSQL it runs the versioned migrations bundled
with bridge via golang-migrate.

Examples:
  bridge migrate
  bridge migrate --config /etc/bridge/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("running database migrations", "driver", cfg.Database.Driver)

	storeCfg := &store.Config{
		Type:       store.DatabaseType(cfg.Database.Driver),
		SQLitePath: sqlitePathFromDSN(cfg.Database.Driver, cfg.Database.DSN),
		Postgres:   postgresConfigFromDSN(cfg.Database.Driver, cfg.Database.DSN),
	}
	storeCfg.ApplyDefaults()

	ctx := context.Background()
	if err := store.RunMigrations(ctx, storeCfg); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	cpStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}
	defer func() { _ = cpStore.Close() }()

	if _, err := cpStore.ListMeters(ctx); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database driver: %s)\n", cfg.Database.Driver)
	return nil
}
