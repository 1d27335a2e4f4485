package mongo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
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
	defaultServerSelectionTimeout = 5 * time.Second
	defaultHeartbeatInterval      = 10 * time.Second
	maxMaxPoolSize                = 1000
)

var (
	// ErrInvalidConfig indicates the provided mongo configuration is invalid.
	ErrInvalidConfig = errors.New("invalid mongo config")
	// ErrClientClosed is returned when the client is not connected.
	ErrClientClosed = errors.New("mongo client is not connected")
	// ErrConnect wraps connection establishment failures.
	ErrConnect = errors.New("mongo connect failed")
	// ErrPing wraps connectivity probe failures.
	ErrPing = errors.New("mongo ping failed")
	// ErrDisconnect wraps disconnection failures.
	ErrDisconnect = errors.New("mongo disconnect failed")
	// ErrCreateIndex wraps index creation failures.
	ErrCreateIndex = errors.New("mongo create index failed")
	// ErrNilMongoClient is returned when the driver returns a nil client.
	ErrNilMongoClient = errors.New("mongo driver returned nil client")
	// ErrEmptyCollectionName is returned when a collection name is empty.
	ErrEmptyCollectionName = errors.New("collection name cannot be empty")
	// ErrEmptyIndexes is returned when no index model is provided.
	ErrEmptyIndexes = errors.New("at least one index must be provided")
)

// connectionFailuresMetric defines the counter for mongo connection failures.
var connectionFailuresMetric = metrics.Metric{
	Name:        "mongo_connection_failures_total",
	Unit:        "1",
	Description: "Total number of mongo connection failures",
}

// TLSConfig configures TLS validation for MongoDB connections.
type TLSConfig struct {
	CACertBase64 string
	MinVersion   uint16
}

// Config defines MongoDB connection and pool behavior.
type Config struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	ServerSelectionTimeout time.Duration
	HeartbeatInterval      time.Duration
	TLS                    *TLSConfig
	Logger                 log.Logger
	MetricsFactory         *metrics.MetricsFactory
}

// Option customizes internal client dependencies (primarily for tests).
type Option func(*clientDeps)

type clientDeps struct {
	connect     func(context.Context, *options.ClientOptions) (*mongo.Client, error)
	ping        func(context.Context, *mongo.Client) error
	disconnect  func(context.Context, *mongo.Client) error
	createIndex func(context.Context, *mongo.Client, string, string, mongo.IndexModel) error
}

func defaultDeps() clientDeps {
	return clientDeps{
		connect: func(ctx context.Context, clientOptions *options.ClientOptions) (*mongo.Client, error) {
			return mongo.Connect(ctx, clientOptions)
		},
		ping: func(ctx context.Context, client *mongo.Client) error {
			return client.Ping(ctx, nil)
		},
		disconnect: func(ctx context.Context, client *mongo.Client) error {
			return client.Disconnect(ctx)
		},
		createIndex: func(ctx context.Context, client *mongo.Client, database, collection string, index mongo.IndexModel) error {
			_, err := client.Database(database).Collection(collection).Indexes().CreateOne(ctx, index)

			return err
		},
	}
}

// Client wraps a *mongo.Client with verified connect and reconnect-on-demand.
type Client struct {
	mu             sync.RWMutex
	cfg            Config
	logger         log.Logger
	metricsFactory *metrics.MetricsFactory
	databaseName   string
	uri            string // private copy for reconnection; cfg.URI cleared after connect
	deps           clientDeps
	client         *mongo.Client
	connected      bool
}

// New validates config, connects to MongoDB, and returns a ready client.
// Passing a nil Option or clearing an internal dependency through one is a
// contract violation.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	deps := defaultDeps()
	scope := fail.In("mongo", "new")

	for _, opt := range opts {
		scope.Fast(ctx, opt != nil, "nil option passed to mongo.New")

		opt(&deps)
	}

	scope.Fast(ctx, deps.connect != nil && deps.ping != nil && deps.disconnect != nil && deps.createIndex != nil,
		"mongo option cleared a required dependency")

	c := &Client{
		cfg:            normalized,
		logger:         normalized.Logger,
		metricsFactory: normalized.MetricsFactory,
		databaseName:   normalized.Database,
		uri:            normalized.URI,
		deps:           deps,
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect establishes a MongoDB connection if one is not already open.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		nilClientAssert(ctx, "connect")
	}

	tracer := otel.Tracer("mongo")

	ctx, span := tracer.Start(ctx, "mongo.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure("connect")

		libOpentelemetry.HandleSpanError(span, "Failed to connect to mongo", err)

		return err
	}

	return nil
}

// GetClient returns the connected driver client wrapped in a NonNil,
// reconnecting on demand if needed. Reconnection is a single attempt; retry
// policy belongs to the caller. When err is non-nil the returned wrapper is
// the zero value and must not be used.
func (c *Client) GetClient(ctx context.Context) (guard.NonNil[*mongo.Client], error) {
	if c == nil {
		nilClientAssert(ctx, "get_client")
	}

	c.mu.RLock()

	if c.client != nil {
		client := c.client
		c.mu.RUnlock()

		return guard.New(client), nil
	}

	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return guard.New(c.client), nil
	}

	// Only trace when actually reconnecting.
	tracer := otel.Tracer("mongo")

	ctx, span := tracer.Start(ctx, "mongo.reconnect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure("reconnect")

		libOpentelemetry.HandleSpanError(span, "Failed to reconnect mongo", err)

		return guard.NonNil[*mongo.Client]{}, err
	}

	return guard.New(c.client), nil
}

// MustClient is GetClient for boot paths where a missing database is fatal:
// any acquisition error fails fast with a contract violation.
func (c *Client) MustClient(ctx context.Context) guard.NonNil[*mongo.Client] {
	handle, err := c.GetClient(ctx)
	fail.In("mongo", "must_client").Fast(ctx, err == nil,
		"mongo client must be available", "error", err)

	return handle
}

// GetDatabase returns the configured database handle wrapped in a NonNil,
// reconnecting on demand if needed. When err is non-nil the returned wrapper
// is the zero value and must not be used.
func (c *Client) GetDatabase(ctx context.Context) (guard.NonNil[*mongo.Database], error) {
	if c == nil {
		nilClientAssert(ctx, "get_database")
	}

	handle, err := c.GetClient(ctx)
	if err != nil {
		return guard.NonNil[*mongo.Database]{}, err
	}

	return guard.New(handle.Get().Database(c.databaseName)), nil
}

// MustDatabase is GetDatabase for boot paths where a missing database is
// fatal: any acquisition error fails fast with a contract violation.
func (c *Client) MustDatabase(ctx context.Context) guard.NonNil[*mongo.Database] {
	handle, err := c.GetDatabase(ctx)
	fail.In("mongo", "must_database").Fast(ctx, err == nil,
		"mongo database must be available", "error", err)

	return handle
}

// DatabaseName returns the configured database name.
func (c *Client) DatabaseName() string {
	if c == nil {
		nilClientAssert(context.Background(), "database_name")
	}

	return c.databaseName
}

// Ping checks MongoDB availability using the active connection. It does not
// reconnect; a closed client reports ErrClientClosed.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		nilClientAssert(ctx, "ping")
	}

	tracer := otel.Tracer("mongo")

	ctx, span := tracer.Start(ctx, "mongo.ping")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		libOpentelemetry.HandleSpanError(span, "Mongo ping on closed client", ErrClientClosed)

		return ErrClientClosed
	}

	if err := c.deps.ping(ctx, client); err != nil {
		pingErr := fmt.Errorf("%w: %w", ErrPing, err)
		libOpentelemetry.HandleSpanError(span, "Mongo ping failed", pingErr)

		return pingErr
	}

	return nil
}

// EnsureIndexes creates indexes for a collection if they do not already exist.
// Index creation failures are collected so one bad model does not hide the rest.
func (c *Client) EnsureIndexes(ctx context.Context, collection string, indexes ...mongo.IndexModel) error {
	if c == nil {
		nilClientAssert(ctx, "ensure_indexes")
	}

	if strings.TrimSpace(collection) == "" {
		return ErrEmptyCollectionName
	}

	if len(indexes) == 0 {
		return ErrEmptyIndexes
	}

	tracer := otel.Tracer("mongo")

	ctx, span := tracer.Start(ctx, "mongo.ensure_indexes")
	defer span.End()

	span.SetAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB),
		attribute.String(constant.AttrDBMongoDBCollection, collection),
	)

	handle, err := c.GetClient(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "Failed to get mongo client for ensure indexes", err)

		return err
	}

	client := handle.Get()

	var indexErrors []error

	for _, index := range indexes {
		if err := ctx.Err(); err != nil {
			indexErrors = append(indexErrors, fmt.Errorf("%w: context cancelled: %w", ErrCreateIndex, err))

			break
		}

		fields := indexKeysString(index.Keys)

		if fields == "<unknown>" {
			c.logAtLevel(ctx, log.LevelWarn, "unrecognized index key type; expected bson.D or bson.M",
				log.String("collection", collection))
		}

		c.log(ctx, "ensuring mongo index", log.String("collection", collection), log.String("fields", fields))

		if err := c.deps.createIndex(ctx, client, c.databaseName, collection, index); err != nil {
			c.logAtLevel(ctx, log.LevelWarn, "failed to create mongo index",
				log.String("collection", collection),
				log.String("fields", fields),
				log.Err(err),
			)

			indexErrors = append(indexErrors, fmt.Errorf("%w: collection=%s fields=%s: %w", ErrCreateIndex, collection, fields, err))
		}
	}

	if len(indexErrors) > 0 {
		joinedErr := errors.Join(indexErrors...)
		libOpentelemetry.HandleSpanError(span, "Failed to ensure some mongo indexes", joinedErr)

		return joinedErr
	}

	return nil
}

// Close releases the MongoDB connection. The client is marked closed even
// when disconnect fails, so callers cannot retry operations on a half-closed
// client.
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		nilClientAssert(ctx, "close")
	}

	tracer := otel.Tracer("mongo")

	ctx, span := tracer.Start(ctx, "mongo.close")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.deps.disconnect(ctx, c.client)
	c.client = nil
	c.connected = false

	if err != nil {
		c.log(ctx, "mongo disconnect failed", log.Err(err))

		disconnectErr := fmt.Errorf("%w: %w", ErrDisconnect, err)
		libOpentelemetry.HandleSpanError(span, "Failed to disconnect from mongo", disconnectErr)

		return disconnectErr
	}

	return nil
}

// IsConnected reports whether the underlying client is currently connected.
func (c *Client) IsConnected() bool {
	if c == nil {
		nilClientAssert(context.Background(), "is_connected")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

// nilClientAssert fires the nil-receiver contract check. It never returns.
func nilClientAssert(ctx context.Context, operation string) {
	fail.In("mongo", operation).Never(ctx, "nil receiver on *mongo.Client")
}

// connectLocked performs the actual connection logic.
// The caller MUST hold c.mu (write lock) before calling this method.
func (c *Client) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}

	// Zero-value Clients fall back to the driver-backed dependencies.
	if c.deps.connect == nil {
		c.deps = defaultDeps()
	}

	if c.client != nil {
		if err := c.deps.disconnect(ctx, c.client); err != nil {
			c.logAtLevel(ctx, log.LevelWarn, "close before connect failed", log.Err(err))
		}

		c.client = nil
		c.connected = false
	}

	clientOptions := options.Client().ApplyURI(c.uri)
	clientOptions.SetServerSelectionTimeout(c.cfg.ServerSelectionTimeout)
	clientOptions.SetHeartbeatInterval(c.cfg.HeartbeatInterval)

	if c.cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(c.cfg.MaxPoolSize)
	}

	if c.cfg.TLS != nil {
		tlsCfg, err := buildTLSConfig(*c.cfg.TLS)
		if err != nil {
			return fmt.Errorf("%w: TLS configuration: %w", ErrConnect, err)
		}

		clientOptions.SetTLSConfig(tlsCfg)
	}

	mongoClient, err := c.deps.connect(ctx, clientOptions)
	if err != nil {
		c.log(ctx, "mongo connect failed", log.Err(err))

		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if mongoClient == nil {
		return ErrNilMongoClient
	}

	if err := c.deps.ping(ctx, mongoClient); err != nil {
		if disconnectErr := c.deps.disconnect(ctx, mongoClient); disconnectErr != nil {
			c.log(ctx, "failed to disconnect after ping failure", log.Err(disconnectErr))
		}

		c.log(ctx, "mongo ping failed", log.Err(err))

		return fmt.Errorf("%w: %w", ErrPing, err)
	}

	c.client = mongoClient
	c.connected = true

	if c.cfg.TLS == nil && !isTLSImplied(c.uri) {
		c.logAtLevel(ctx, log.LevelWarn, "mongo connection established without TLS; "+
			"consider configuring TLS for production use")
	}

	c.cfg.URI = ""

	return nil
}

func (c *Client) log(ctx context.Context, message string, fields ...log.Field) {
	c.logAtLevel(ctx, log.LevelDebug, message, fields...)
}

func (c *Client) logAtLevel(ctx context.Context, level log.Level, message string, fields ...log.Field) {
	if c == nil || c.logger == nil {
		return
	}

	if !c.logger.Enabled(level) {
		return
	}

	c.logger.Log(ctx, level, message, fields...)
}

// normalizeConfig applies safe defaults and clamps, then validates.
func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Logger == nil {
		cfg.Logger = &log.NopLogger{}
	}

	if cfg.ServerSelectionTimeout <= 0 {
		cfg.ServerSelectionTimeout = defaultServerSelectionTimeout
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}

	if cfg.MaxPoolSize > maxMaxPoolSize {
		cfg.MaxPoolSize = maxMaxPoolSize
	}

	if cfg.TLS != nil {
		tlsCopy := *cfg.TLS
		cfg.TLS = &tlsCopy
	}

	normalizeTLSDefaults(cfg.TLS)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// normalizeTLSDefaults enforces a minimum TLS version of 1.2.
func normalizeTLSDefaults(tlsCfg *TLSConfig) {
	if tlsCfg == nil {
		return
	}

	if tlsCfg.MinVersion < tls.VersionTLS12 {
		tlsCfg.MinVersion = tls.VersionTLS12
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.URI) == "" {
		return configError("uri is required")
	}

	if strings.TrimSpace(cfg.Database) == "" {
		return configError("database name is required")
	}

	if cfg.TLS != nil && strings.TrimSpace(cfg.TLS.CACertBase64) == "" {
		return configError("TLS CA cert is required when TLS is configured")
	}

	return nil
}

// buildTLSConfig creates a *tls.Config from a TLSConfig.
// MinVersion defaults to TLS 1.2. If cfg.MinVersion is set, it must be
// tls.VersionTLS12 or tls.VersionTLS13; any other value returns ErrInvalidConfig.
func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	caCert, err := base64.StdEncoding.DecodeString(cfg.CACertBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding CA cert: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, configError("adding CA cert to pool failed")
	}

	if cfg.MinVersion != 0 && cfg.MinVersion != tls.VersionTLS12 && cfg.MinVersion != tls.VersionTLS13 {
		return nil, fmt.Errorf("%w: unsupported TLS MinVersion %#x (must be tls.VersionTLS12 or tls.VersionTLS13)", ErrInvalidConfig, cfg.MinVersion)
	}

	tlsConfig := &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}

	if cfg.MinVersion == tls.VersionTLS13 {
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig, nil
}

// isTLSImplied returns true if the URI scheme or query parameters indicate TLS.
func isTLSImplied(uri string) bool {
	return strings.HasPrefix(uri, "mongodb+srv://") ||
		strings.Contains(uri, "tls=true") ||
		strings.Contains(uri, "ssl=true")
}

// configError wraps a configuration validation message with ErrInvalidConfig.
func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

// recordConnectionFailure increments the mongo connection failure counter.
// No-op when metricsFactory is nil.
func (c *Client) recordConnectionFailure(operation string) {
	if c.metricsFactory == nil {
		return
	}

	counter, err := c.metricsFactory.Counter(connectionFailuresMetric)
	if err != nil {
		c.logAtLevel(context.Background(), log.LevelWarn, "failed to create mongo metric counter", log.Err(err))
		return
	}

	err = counter.
		WithLabels(map[string]string{
			"operation": constant.SanitizeMetricLabel(operation),
		}).
		AddOne(context.Background())
	if err != nil {
		c.logAtLevel(context.Background(), log.LevelWarn, "failed to record mongo metric", log.Err(err))
	}
}

// indexKeysString returns a string representation of the index keys.
// It's used to log the index keys in a human-readable format.
func indexKeysString(keys any) string {
	switch k := keys.(type) {
	case bson.D:
		parts := make([]string, 0, len(k))
		for _, e := range k {
			parts = append(parts, e.Key)
		}

		return strings.Join(parts, ",")
	case bson.M:
		parts := make([]string, 0, len(k))
		for key := range k {
			parts = append(parts, key)
		}

		sort.Strings(parts)

		return strings.Join(parts, ",")
	default:
		return "<unknown>"
	}
}
