package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migration source
	_ "github.com/jackc/pgx/v5/stdlib"                   // pgx database/sql driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/LerianStudio/lib-guard/guard"
	constant "github.com/LerianStudio/lib-guard/guard/constants"
	"github.com/LerianStudio/lib-guard/guard/fail"
	"github.com/LerianStudio/lib-guard/guard/log"
	libOpentelemetry "github.com/LerianStudio/lib-guard/guard/opentelemetry"
	"github.com/LerianStudio/lib-guard/guard/opentelemetry/metrics"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// ErrInvalidConfig indicates the provided postgres configuration is invalid.
var ErrInvalidConfig = errors.New("invalid postgres config")

var (
	dbOpenFn = sql.Open

	createResolverFn = func(primaryDB, replicaDB *sql.DB) (_ dbresolver.DB, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("failed to create resolver: %v", recovered)
			}
		}()

		connectionDB := dbresolver.New(
			dbresolver.WithPrimaryDBs(primaryDB),
			dbresolver.WithReplicaDBs(replicaDB),
			dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
		)

		if connectionDB == nil {
			return nil, errors.New("resolver returned nil connection")
		}

		return connectionDB, nil
	}

	runMigrationsFn = runMigrations

	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
	dbNamePattern                      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// connectionFailuresMetric defines the counter for postgres connection failures.
var connectionFailuresMetric = metrics.Metric{
	Name:        "postgres_connection_failures_total",
	Unit:        "1",
	Description: "Total number of postgres connection failures",
}

// Config defines primary/replica DSNs, pool sizing, and optional migrations.
//
// ReplicaDSN may be left empty for single-node deployments; the primary DSN
// is used for both sides of the resolver. Migrations run only when
// MigrationsPath or Component is set; missing migration files are skipped,
// so a path can be configured unconditionally.
type Config struct {
	PrimaryDSN           string
	ReplicaDSN           string
	PrimaryDBName        string
	Component            string
	MigrationsPath       string
	AllowMultiStatements bool
	MaxOpenConnections   int
	MaxIdleConnections   int
	Logger               log.Logger
	MetricsFactory       *metrics.MetricsFactory
}

// Connection manages the primary/replica pools behind a single resolver.
type Connection struct {
	mu             sync.RWMutex
	cfg            Config
	logger         log.Logger
	metricsFactory *metrics.MetricsFactory
	connectionDB   dbresolver.DB
	connected      bool
}

// New validates config, connects both pools, runs pending migrations, and
// returns a ready connection.
func New(ctx context.Context, cfg Config) (*Connection, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		cfg:            normalized,
		logger:         normalized.Logger,
		metricsFactory: normalized.MetricsFactory,
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	return conn, nil
}

// Connect establishes the primary and replica pools using the current
// configuration, replacing any previous resolver.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		nilConnAssert(ctx, "connect")
	}

	tracer := otel.Tracer("postgres")

	ctx, span := tracer.Start(ctx, "postgres.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemPostgreSQL))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = &log.NopLogger{}
	}

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure("connect")

		libOpentelemetry.HandleSpanError(span, "Failed to connect to postgres", err)

		return err
	}

	return nil
}

// GetDB returns the resolver wrapped in a NonNil, reconnecting on demand if
// needed. When err is non-nil the returned wrapper is the zero value and must
// not be used.
func (c *Connection) GetDB(ctx context.Context) (guard.NonNil[dbresolver.DB], error) {
	if c == nil {
		nilConnAssert(ctx, "get_db")
	}

	c.mu.RLock()

	if c.connectionDB != nil {
		db := c.connectionDB
		c.mu.RUnlock()

		return guard.New(db), nil
	}

	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = &log.NopLogger{}
	}

	// Double-check after acquiring write lock.
	if c.connectionDB != nil {
		return guard.New(c.connectionDB), nil
	}

	// Only trace when actually reconnecting.
	tracer := otel.Tracer("postgres")

	ctx, span := tracer.Start(ctx, "postgres.reconnect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemPostgreSQL))

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure("reconnect")

		libOpentelemetry.HandleSpanError(span, "Failed to reconnect postgres", err)

		return guard.NonNil[dbresolver.DB]{}, err
	}

	return guard.New(c.connectionDB), nil
}

// MustDB is GetDB for boot paths where a missing database is fatal: any
// acquisition error fails fast with a contract violation.
func (c *Connection) MustDB(ctx context.Context) guard.NonNil[dbresolver.DB] {
	handle, err := c.GetDB(ctx)
	fail.In("postgres", "must_db").Fast(ctx, err == nil,
		"database must be available", "error", err)

	return handle
}

// Close releases database connection resources.
func (c *Connection) Close() error {
	if c == nil {
		nilConnAssert(context.Background(), "close")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

// IsConnected reports whether the database resolver is initialized.
func (c *Connection) IsConnected() bool {
	if c == nil {
		nilConnAssert(context.Background(), "is_connected")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

// nilConnAssert fires the nil-receiver contract check. It never returns.
func nilConnAssert(ctx context.Context, operation string) {
	fail.In("postgres", operation).Never(ctx, "nil receiver on *postgres.Connection")
}

// connectLocked performs the actual connection. Caller must hold the write lock.
func (c *Connection) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before database connection: %w", err)
	}

	if c.connectionDB != nil {
		if err := c.closeLocked(); err != nil {
			c.logger.Log(ctx, log.LevelWarn, "close before reconnect failed", log.Err(err))
		}
	}

	c.logger.Log(ctx, log.LevelInfo, "connecting to primary and replica databases")

	dbPrimary, err := c.openPool(ctx, c.cfg.PrimaryDSN, "primary")
	if err != nil {
		return err
	}

	// Ensure pools are cleaned up if anything downstream fails.
	var success bool

	defer func() {
		if !success {
			dbPrimary.Close()
		}
	}()

	dbReplica, err := c.openPool(ctx, c.cfg.ReplicaDSN, "replica")
	if err != nil {
		return err
	}

	defer func() {
		if !success {
			dbReplica.Close()
		}
	}()

	connectionDB, err := createResolverFn(dbPrimary, dbReplica)
	if err != nil {
		c.logger.Log(ctx, log.LevelError, "failed to create resolver", log.Err(err))

		return fmt.Errorf("failed to create resolver: %w", err)
	}

	migrationsPath, err := c.getMigrationsPath()
	if err != nil {
		c.logger.Log(ctx, log.LevelError, "failed to resolve migrations path", log.Err(err))

		return err
	}

	if err := runMigrationsFn(ctx, dbPrimary, migrationsPath, c.cfg.PrimaryDBName, c.cfg.AllowMultiStatements, c.logger); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before ping: %w", err)
	}

	if err := connectionDB.PingContext(ctx); err != nil {
		c.logger.Log(ctx, log.LevelError, "failed to ping database", log.Err(err))

		return fmt.Errorf("failed to ping database: %w", err)
	}

	c.connectionDB = connectionDB
	c.connected = true

	c.logger.Log(ctx, log.LevelInfo, "connected to postgres")

	success = true

	return nil
}

// openPool opens and sizes one database/sql pool.
func (c *Connection) openPool(ctx context.Context, dsn, side string) (*sql.DB, error) {
	db, err := dbOpenFn("pgx", dsn)
	if err != nil {
		sanitized := sanitizeSensitiveError(err)
		c.logger.Log(ctx, log.LevelError, "failed to open "+side+" pool", log.String("error", sanitized))

		return nil, fmt.Errorf("failed to connect to %s database: %s", side, sanitized)
	}

	db.SetMaxOpenConns(c.cfg.MaxOpenConnections)
	db.SetMaxIdleConns(c.cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	return db, nil
}

func (c *Connection) closeLocked() error {
	if c.connectionDB == nil {
		return nil
	}

	err := c.connectionDB.Close()
	c.connectionDB = nil
	c.connected = false

	return err
}

// getMigrationsPath returns the path to migration files. An empty path with
// an empty Component disables migrations.
func (c *Connection) getMigrationsPath() (string, error) {
	if c.cfg.MigrationsPath != "" {
		return sanitizePath(c.cfg.MigrationsPath)
	}

	if c.cfg.Component == "" {
		return "", nil
	}

	// Sanitize Component to prevent path traversal (CWE-22).
	// filepath.Base strips directory components, so "../../etc" becomes "etc".
	sanitized := filepath.Base(c.cfg.Component)
	if sanitized == "." || sanitized == string(filepath.Separator) {
		return "", fmt.Errorf("%w: invalid component name: %q", ErrInvalidConfig, c.cfg.Component)
	}

	return filepath.Abs(filepath.Join("components", sanitized, "migrations"))
}

// recordConnectionFailure increments the postgres connection failure counter.
// No-op when metricsFactory is nil.
func (c *Connection) recordConnectionFailure(operation string) {
	if c.metricsFactory == nil {
		return
	}

	counter, err := c.metricsFactory.Counter(connectionFailuresMetric)
	if err != nil {
		c.logger.Log(context.Background(), log.LevelWarn, "failed to create postgres metric counter", log.Err(err))
		return
	}

	err = counter.
		WithLabels(map[string]string{
			"operation": constant.SanitizeMetricLabel(operation),
		}).
		AddOne(context.Background())
	if err != nil {
		c.logger.Log(context.Background(), log.LevelWarn, "failed to record postgres metric", log.Err(err))
	}
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Logger == nil {
		cfg.Logger = &log.NopLogger{}
	}

	if cfg.MaxOpenConnections <= 0 {
		cfg.MaxOpenConnections = defaultMaxOpenConns
	}

	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = defaultMaxIdleConns
	}

	if strings.TrimSpace(cfg.ReplicaDSN) == "" {
		cfg.ReplicaDSN = cfg.PrimaryDSN
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.PrimaryDSN) == "" {
		return configError("primary DSN is required")
	}

	return nil
}

func sanitizeSensitiveError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := connectionStringCredentialsPattern.ReplaceAllString(err.Error(), "://***@")
	sanitized = connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")

	return sanitized
}

func sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	parts := strings.Split(cleaned, string(filepath.Separator))

	for _, part := range parts {
		if part == ".." {
			return "", fmt.Errorf("%w: invalid migrations path: %q", ErrInvalidConfig, path)
		}
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	return absPath, nil
}

func validateDBName(name string) error {
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid database name: %q", ErrInvalidConfig, name)
	}

	return nil
}

func runMigrations(
	ctx context.Context,
	dbPrimary *sql.DB,
	migrationsPath, primaryDBName string,
	allowMultiStatements bool,
	logger log.Logger,
) error {
	if migrationsPath == "" {
		logger.Log(ctx, log.LevelDebug, "no migrations path configured, skipping migrations")

		return nil
	}

	if err := validateDBName(primaryDBName); err != nil {
		logger.Log(ctx, log.LevelError, "invalid primary database name", log.Err(err))

		return err
	}

	primaryURL, err := url.Parse(filepath.ToSlash(migrationsPath))
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to parse migrations url", log.Err(err))

		return fmt.Errorf("failed to parse migrations url: %w", err)
	}

	primaryURL.Scheme = "file"

	primaryDriver, err := migratepg.WithInstance(dbPrimary, &migratepg.Config{
		MultiStatementEnabled: allowMultiStatements,
		DatabaseName:          primaryDBName,
		SchemaName:            "public",
	})
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create postgres driver instance", log.Err(err))

		return fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(primaryURL.String(), primaryDBName, primaryDriver)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create migration instance", log.Err(err))

		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Log(ctx, log.LevelInfo, "no new migrations found, skipping")

			return nil
		}

		if errors.Is(err, os.ErrNotExist) {
			logger.Log(ctx, log.LevelWarn, "no migration files found, skipping migration step")

			return nil
		}

		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			logger.Log(ctx, log.LevelError, "migration failed with dirty version", log.Int("version", dirtyErr.Version))

			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}

		logger.Log(ctx, log.LevelError, "migration failed", log.Err(err))

		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
