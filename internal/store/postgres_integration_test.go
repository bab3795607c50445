//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresBackendAppliesMigrationsAndServesStore exercises the
// PostgreSQL dialector and golang-migrate schema against a real container;
// it is excluded from the default test run (spec.md's ambient test tooling
// favors fast, hermetic unit tests, with this as an opt-in integration
// check, same split as the teacher's store package).
func TestPostgresBackendAppliesMigrationsAndServesStore(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "bridge_test",
			"POSTGRES_USER":     "bridge_test",
			"POSTGRES_PASSWORD": "bridge_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := &Config{
		Type: DatabaseTypePostgres,
		Postgres: PostgresConfig{
			Host: host, Port: port.Int(),
			Database: "bridge_test", User: "bridge_test", Password: "bridge_test",
			SSLMode: "disable",
		},
	}

	require.NoError(t, RunMigrations(ctx, cfg))

	s, err := New(cfg)
	require.NoError(t, err)

	id, err := s.CreateMeter(ctx, MeterRecord{Name: "pg-meter", Host: "10.0.0.1", Port: 4059})
	require.NoError(t, err)
	require.NoError(t, s.SetMeterStatus(ctx, id, StatusActive))

	meters, err := s.ListActiveMeters(ctx)
	require.NoError(t, err)
	require.Len(t, meters, 1)
	require.Equal(t, id, meters[0].ID)
}
