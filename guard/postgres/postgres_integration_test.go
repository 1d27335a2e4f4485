//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/LerianStudio/lib-guard/guard/log"
	"github.com/LerianStudio/lib-guard/guard/opentelemetry/metrics"
)

// setupPostgresContainer starts a disposable PostgreSQL container and returns
// the connection string plus a teardown function. The container is terminated
// when the returned cleanup function is invoked (typically via t.Cleanup).
func setupPostgresContainer(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return connStr, func() {
		_ = container.Terminate(ctx)
	}
}

// newTestConfig builds a Config pointing both primary and replica at the same
// container DSN. This is intentional for integration tests: we are validating
// the connector lifecycle, not read/write splitting.
func newTestConfig(dsn string) Config {
	return Config{
		PrimaryDSN:     dsn,
		ReplicaDSN:     dsn,
		PrimaryDBName:  "testdb",
		Logger:         log.NewNop(),
		MetricsFactory: metrics.NewNopFactory(),
	}
}

// writeProbeMigrations drops a single up/down migration pair into a temp dir
// so the migration step has real work to do.
func writeProbeMigrations(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	up := []byte("CREATE TABLE guard_probe (id SERIAL PRIMARY KEY, note TEXT);\n")
	down := []byte("DROP TABLE guard_probe;\n")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_init.up.sql"), up, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_init.down.sql"), down, 0o600))

	return dir
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_ConnectAndGetDB
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_ConnectAndGetDB(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	conn, err := New(ctx, newTestConfig(dsn))
	require.NoError(t, err, "New() should succeed against running container")

	assert.True(t, conn.IsConnected())

	handle, err := conn.GetDB(ctx)
	require.NoError(t, err)

	// The handle is live: ping and a trivial query both work.
	require.NoError(t, handle.Get().PingContext(ctx))

	var one int
	require.NoError(t, handle.Get().QueryRowContext(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)

	assert.NoError(t, conn.Close())
	assert.False(t, conn.IsConnected())
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_MigrationsApply
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_MigrationsApply(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	cfg := newTestConfig(dsn)
	cfg.MigrationsPath = writeProbeMigrations(t)

	conn, err := New(ctx, cfg)
	require.NoError(t, err, "New() should run migrations and connect")

	handle := conn.MustDB(ctx)

	var count int
	require.NoError(t, handle.Get().QueryRowContext(ctx, "SELECT COUNT(*) FROM guard_probe").Scan(&count))
	assert.Zero(t, count, "migrated table exists and is empty")

	assert.NoError(t, conn.Close())
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_ReconnectAfterClose
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_ReconnectAfterClose(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	conn, err := New(ctx, newTestConfig(dsn))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// GetDB reconnects on demand after an explicit Close.
	handle, err := conn.GetDB(ctx)
	require.NoError(t, err)
	assert.NoError(t, handle.Get().PingContext(ctx))
	assert.True(t, conn.IsConnected())

	assert.NoError(t, conn.Close())
}
