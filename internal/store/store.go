package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseType selects the backend GORM dialector.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// PostgresConfig configures the HA-capable backend.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the libpq connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config selects and parameterizes the catalogue backend.
type Config struct {
	Type       DatabaseType
	SQLitePath string
	Postgres   PostgresConfig
}

// ApplyDefaults fills in missing configuration with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.SQLitePath == "" {
		dir := os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, _ := os.UserHomeDir()
			dir = filepath.Join(home, ".config")
		}
		c.SQLitePath = filepath.Join(dir, "bridge", "bridge.db")
	}
	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 25
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 5
		}
	}
}

// Validate reports whether the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("store: sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			return fmt.Errorf("store: postgres host, database, and user are required")
		}
	default:
		return fmt.Errorf("store: unsupported database type %q", c.Type)
	}
	return nil
}

// GORMStore is the catalogue's GORM-backed implementation. It satisfies
// internal/orchestrator.Store.
type GORMStore struct {
	db     *gorm.DB
	config *Config
}

// New opens (and, for SQLite, creates) the catalogue database and runs
// GORM's schema auto-migration.
func New(cfg *Config) (*GORMStore, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
		dsn := cfg.SQLitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)
	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if cfg.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
	}

	if err := db.AutoMigrate(&MeterRecord{}, &MeasurementRecord{}, &AlarmRecord{}, &MetricRecord{}); err != nil {
		return nil, fmt.Errorf("store: auto migrate: %w", err)
	}

	return &GORMStore{db: db, config: cfg}, nil
}

// Close releases the underlying database connection pool.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newForTesting wraps an already-open *gorm.DB, used by tests that open a
// temporary SQLite file themselves.
func newForTesting(db *gorm.DB) (*GORMStore, error) {
	if err := db.AutoMigrate(&MeterRecord{}, &MeasurementRecord{}, &AlarmRecord{}, &MetricRecord{}); err != nil {
		return nil, err
	}
	return &GORMStore{db: db, config: &Config{Type: DatabaseTypeSQLite}}, nil
}
