package commands

import (
	"strconv"
	"strings"

	"github.com/dlmsbridge/bridge/internal/config"
	"github.com/dlmsbridge/bridge/internal/store"
)

// openStore builds the configuration-store handle for cfg's database
// section; shared by every subcommand that touches the meter catalogue.
func openStore(cfg *config.Config) (*store.GORMStore, error) {
	return store.New(&store.Config{
		Type:       store.DatabaseType(cfg.Database.Driver),
		SQLitePath: sqlitePathFromDSN(cfg.Database.Driver, cfg.Database.DSN),
		Postgres:   postgresConfigFromDSN(cfg.Database.Driver, cfg.Database.DSN),
	})
}

// sqlitePathFromDSN returns cfg's DSN verbatim when the driver is sqlite (the
// DSN *is* the file path), and the empty string otherwise.
func sqlitePathFromDSN(driver, dsn string) string {
	if driver != "sqlite" {
		return ""
	}
	return dsn
}

// postgresConfigFromDSN parses a libpq key=value DSN ("host=... port=...
// user=... password=... dbname=... sslmode=...") into store.PostgresConfig.
// Returns the zero value when the driver isn't postgres; internal/store
// fills in pool-size defaults.
func postgresConfigFromDSN(driver, dsn string) store.PostgresConfig {
	var cfg store.PostgresConfig
	if driver != "postgres" {
		return cfg
	}
	for _, field := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, "'\"")
		switch key {
		case "host":
			cfg.Host = value
		case "port":
			if p, err := strconv.Atoi(value); err == nil {
				cfg.Port = p
			}
		case "dbname":
			cfg.Database = value
		case "user":
			cfg.User = value
		case "password":
			cfg.Password = value
		case "sslmode":
			cfg.SSLMode = value
		}
	}
	return cfg
}
