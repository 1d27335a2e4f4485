package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/LerianStudio/lib-guard/guard"
	constant "github.com/LerianStudio/lib-guard/guard/constants"
	"github.com/LerianStudio/lib-guard/guard/fail"
	"github.com/LerianStudio/lib-guard/guard/log"
	libOpentelemetry "github.com/LerianStudio/lib-guard/guard/opentelemetry"
	"github.com/LerianStudio/lib-guard/guard/opentelemetry/metrics"
)

const defaultHealthCheckTimeout = 5 * time.Second

var (
	// ErrInvalidConfig indicates the provided rabbitmq configuration is invalid.
	ErrInvalidConfig = errors.New("invalid rabbitmq config")
	// ErrConnect wraps broker dial failures.
	ErrConnect = errors.New("rabbitmq connect failed")
	// ErrOpenChannel wraps channel open failures.
	ErrOpenChannel = errors.New("rabbitmq open channel failed")
	// ErrNilConnection is returned when the driver returns a nil connection.
	ErrNilConnection = errors.New("rabbitmq driver returned nil connection")
	// ErrNilChannel is returned when the driver returns a nil channel.
	ErrNilChannel = errors.New("rabbitmq driver returned nil channel")
	// ErrUnhealthy is returned when the management API reports the broker unhealthy.
	ErrUnhealthy = errors.New("rabbitmq health check failed")
	// ErrInsecureTLS is returned when the health check HTTP client has TLS
	// verification disabled without AllowInsecureTLS acknowledging the risk.
	ErrInsecureTLS = errors.New("rabbitmq health check HTTP client has TLS verification disabled; set AllowInsecureTLS to acknowledge this risk")
)

// connectionFailuresMetric defines the counter for rabbitmq connection failures.
var connectionFailuresMetric = metrics.Metric{
	Name:        "rabbitmq_connection_failures_total",
	Unit:        "1",
	Description: "Total number of rabbitmq connection failures",
}

// Package-level driver entry points, extracted as variables so tests can
// substitute them without a live broker.
var (
	dialFn        = amqp.Dial
	openChannelFn = func(conn *amqp.Connection) (*amqp.Channel, error) {
		return conn.Channel()
	}
	connectionClosedFn = func(conn *amqp.Connection) bool {
		return conn.IsClosed()
	}
	channelClosedFn = func(ch *amqp.Channel) bool {
		return ch.IsClosed()
	}
	closeConnectionFn = func(conn *amqp.Connection) error {
		return conn.Close()
	}
	closeChannelFn = func(ch *amqp.Channel) error {
		return ch.Close()
	}
)

// Config defines RabbitMQ connectivity and health check behavior.
//
// HealthCheckURL points at the management API base (scheme://host:port); the
// alarms endpoint path is appended automatically. When it is empty the
// management probe is skipped and connectivity is judged by the AMQP dial
// alone.
type Config struct {
	ConnectionString string
	HealthCheckURL   string
	HealthCheckUser  string
	HealthCheckPass  string
	// HealthHTTPClient overrides the HTTP client used for the management
	// probe. Clients with InsecureSkipVerify require AllowInsecureTLS.
	HealthHTTPClient *http.Client
	AllowInsecureTLS bool
	Logger           log.Logger
	MetricsFactory   *metrics.MetricsFactory
}

// Connection manages a RabbitMQ connection and a single channel on top of it.
// All methods are safe for concurrent use.
type Connection struct {
	mu             sync.RWMutex
	cfg            Config
	logger         log.Logger
	metricsFactory *metrics.MetricsFactory
	conn           *amqp.Connection
	channel        *amqp.Channel
	connected      bool
}

// New validates config, dials the broker, opens a channel, and returns a
// ready connection.
func New(ctx context.Context, cfg Config) (*Connection, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:            normalized,
		logger:         normalized.Logger,
		metricsFactory: normalized.MetricsFactory,
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect establishes the AMQP connection and channel using the current
// configuration.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		nilConnAssert(ctx, "connect")
	}

	tracer := otel.Tracer("rabbitmq")

	ctx, span := tracer.Start(ctx, "rabbitmq.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRabbitMQ))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = &log.NopLogger{}
	}

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure("connect")

		libOpentelemetry.HandleSpanError(span, "Failed to connect to rabbitmq", err)

		return err
	}

	return nil
}

// GetConnection returns the live AMQP connection wrapped in a NonNil,
// redialing on demand if the broker dropped it. Reconnection is a single
// attempt; retry policy belongs to the caller. When err is non-nil the
// returned wrapper is the zero value and must not be used.
func (c *Connection) GetConnection(ctx context.Context) (guard.NonNil[*amqp.Connection], error) {
	if c == nil {
		nilConnAssert(ctx, "get_connection")
	}

	c.mu.RLock()

	if c.conn != nil && !connectionClosedFn(c.conn) {
		conn := c.conn
		c.mu.RUnlock()

		return guard.New(conn), nil
	}

	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = &log.NopLogger{}
	}

	if c.conn != nil && !connectionClosedFn(c.conn) {
		return guard.New(c.conn), nil
	}

	// Only trace when actually reconnecting.
	tracer := otel.Tracer("rabbitmq")

	ctx, span := tracer.Start(ctx, "rabbitmq.reconnect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRabbitMQ))

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure("reconnect")

		libOpentelemetry.HandleSpanError(span, "Failed to reconnect rabbitmq", err)

		return guard.NonNil[*amqp.Connection]{}, err
	}

	return guard.New(c.conn), nil
}

// MustConnection is GetConnection for boot paths where a missing broker is
// fatal: any acquisition error fails fast with a contract violation.
func (c *Connection) MustConnection(ctx context.Context) guard.NonNil[*amqp.Connection] {
	handle, err := c.GetConnection(ctx)
	fail.In("rabbitmq", "must_connection").Fast(ctx, err == nil,
		"rabbitmq connection must be available", "error", err)

	return handle
}

// GetChannel returns the managed channel wrapped in a NonNil. A dead channel
// on a live connection is reopened in place; a dead connection triggers a
// full redial. When err is non-nil the returned wrapper is the zero value and
// must not be used.
func (c *Connection) GetChannel(ctx context.Context) (guard.NonNil[*amqp.Channel], error) {
	if c == nil {
		nilConnAssert(ctx, "get_channel")
	}

	c.mu.RLock()

	if c.channelHealthyLocked() {
		ch := c.channel
		c.mu.RUnlock()

		return guard.New(ch), nil
	}

	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = &log.NopLogger{}
	}

	if c.channelHealthyLocked() {
		return guard.New(c.channel), nil
	}

	tracer := otel.Tracer("rabbitmq")

	ctx, span := tracer.Start(ctx, "rabbitmq.ensure_channel")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRabbitMQ))

	// The connection may still be healthy with only the channel dead; reopen
	// the channel without paying for a full redial in that case.
	if c.conn != nil && !connectionClosedFn(c.conn) {
		ch, err := openChannelFn(c.conn)
		if err != nil {
			c.recordConnectionFailure("reopen_channel")

			libOpentelemetry.HandleSpanError(span, "Failed to reopen rabbitmq channel", err)
			c.channel = nil

			return guard.NonNil[*amqp.Channel]{}, fmt.Errorf("%w: %w", ErrOpenChannel, err)
		}

		if ch == nil {
			c.channel = nil

			return guard.NonNil[*amqp.Channel]{}, ErrNilChannel
		}

		c.channel = ch
		c.log(ctx, "reopened rabbitmq channel")

		return guard.New(c.channel), nil
	}

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure("reconnect")

		libOpentelemetry.HandleSpanError(span, "Failed to reconnect rabbitmq", err)

		return guard.NonNil[*amqp.Channel]{}, err
	}

	return guard.New(c.channel), nil
}

// MustChannel is GetChannel for boot paths where a missing broker is fatal:
// any acquisition error fails fast with a contract violation.
func (c *Connection) MustChannel(ctx context.Context) guard.NonNil[*amqp.Channel] {
	handle, err := c.GetChannel(ctx)
	fail.In("rabbitmq", "must_channel").Fast(ctx, err == nil,
		"rabbitmq channel must be available", "error", err)

	return handle
}

// HealthCheck probes the management API alarms endpoint and returns an error
// when the broker reports anything other than a healthy status. It requires
// HealthCheckURL to be configured.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil {
		nilConnAssert(ctx, "health_check")
	}

	tracer := otel.Tracer("rabbitmq")

	ctx, span := tracer.Start(ctx, "rabbitmq.health_check")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRabbitMQ))

	c.mu.RLock()
	rawURL := c.cfg.HealthCheckURL
	user := c.cfg.HealthCheckUser
	pass := c.cfg.HealthCheckPass
	client := c.cfg.HealthHTTPClient
	c.mu.RUnlock()

	if strings.TrimSpace(rawURL) == "" {
		err := configError("health check URL is not configured")
		libOpentelemetry.HandleSpanError(span, "RabbitMQ health check not configured", err)

		return err
	}

	if err := c.healthCheck(ctx, rawURL, user, pass, client); err != nil {
		libOpentelemetry.HandleSpanError(span, "RabbitMQ health check failed", err)

		return err
	}

	return nil
}

// Close closes the channel and the connection.
func (c *Connection) Close() error {
	if c == nil {
		nilConnAssert(context.Background(), "close")
	}

	tracer := otel.Tracer("rabbitmq")

	_, span := tracer.Start(context.Background(), "rabbitmq.close")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRabbitMQ))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.closeLocked(); err != nil {
		libOpentelemetry.HandleSpanError(span, "Failed to close rabbitmq connection", err)

		return err
	}

	return nil
}

// IsConnected reports whether the AMQP connection is currently open.
func (c *Connection) IsConnected() bool {
	if c == nil {
		nilConnAssert(context.Background(), "is_connected")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected && c.conn != nil && !connectionClosedFn(c.conn)
}

// nilConnAssert fires the nil-receiver contract check. It never returns.
func nilConnAssert(ctx context.Context, operation string) {
	fail.In("rabbitmq", operation).Never(ctx, "nil receiver on *rabbitmq.Connection")
}

// channelHealthyLocked reports whether both the channel and its parent
// connection are open. The caller MUST hold c.mu (read or write).
func (c *Connection) channelHealthyLocked() bool {
	return c.conn != nil && !connectionClosedFn(c.conn) &&
		c.channel != nil && !channelClosedFn(c.channel)
}

// connectLocked performs the actual dial, channel open, and optional health
// probe. The caller MUST hold c.mu (write lock) before calling this method.
func (c *Connection) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}

	c.log(ctx, "connecting to rabbitmq")

	if c.conn != nil || c.channel != nil {
		if err := c.closeLocked(); err != nil {
			c.logAtLevel(ctx, log.LevelWarn, "close before connect failed", log.Err(err))
		}
	}

	conn, err := dialFn(c.cfg.ConnectionString)
	if err != nil {
		// Dial errors can echo the connection string, credentials included.
		sanitized := newSanitizedError(err, c.cfg.ConnectionString, "dial")
		c.logAtLevel(ctx, log.LevelError, "failed to connect to rabbitmq",
			log.String("error_detail", sanitizeAMQPErr(err, c.cfg.ConnectionString)))

		return fmt.Errorf("%w: %w", ErrConnect, sanitized)
	}

	if conn == nil {
		return ErrNilConnection
	}

	ch, err := openChannelFn(conn)
	if err != nil {
		if closeErr := closeConnectionFn(conn); closeErr != nil {
			c.logAtLevel(ctx, log.LevelWarn, "failed to close connection after channel failure", log.Err(closeErr))
		}

		c.logAtLevel(ctx, log.LevelError, "failed to open rabbitmq channel", log.Err(err))

		return fmt.Errorf("%w: %w", ErrOpenChannel, err)
	}

	if ch == nil {
		if closeErr := closeConnectionFn(conn); closeErr != nil {
			c.logAtLevel(ctx, log.LevelWarn, "failed to close connection after nil channel", log.Err(closeErr))
		}

		return ErrNilChannel
	}

	if strings.TrimSpace(c.cfg.HealthCheckURL) != "" {
		if err := c.healthCheck(ctx, c.cfg.HealthCheckURL, c.cfg.HealthCheckUser, c.cfg.HealthCheckPass, c.cfg.HealthHTTPClient); err != nil {
			if closeErr := closeConnectionFn(conn); closeErr != nil {
				c.logAtLevel(ctx, log.LevelWarn, "failed to close connection after failed health check", log.Err(closeErr))
			}

			c.logAtLevel(ctx, log.LevelError, "rabbitmq health check failed during connect", log.Err(err))

			return err
		}
	} else {
		c.log(ctx, "health check URL not configured; skipping management API probe")
	}

	c.conn = conn
	c.channel = ch
	c.connected = true

	c.log(ctx, "connected to rabbitmq")

	return nil
}

// closeLocked closes the channel and connection, joining any errors. State is
// reset even when closing fails. The caller MUST hold c.mu (write lock).
func (c *Connection) closeLocked() error {
	var errs []error

	if c.channel != nil && !channelClosedFn(c.channel) {
		if err := closeChannelFn(c.channel); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}

	if c.conn != nil && !connectionClosedFn(c.conn) {
		if err := closeConnectionFn(c.conn); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.channel = nil
	c.conn = nil
	c.connected = false

	return errors.Join(errs...)
}

// healthCheck performs the management API probe against pre-captured config
// values, safe to call without holding the mutex.
func (c *Connection) healthCheck(ctx context.Context, rawURL, user, pass string, client *http.Client) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq health check: %w", err)
	}

	healthURL, err := validateHealthCheckURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid health check URL: %w", ErrUnhealthy, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrUnhealthy, err)
	}

	req.SetBasicAuth(user, pass)

	if client == nil {
		client = &http.Client{Timeout: defaultHealthCheckTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %s", ErrUnhealthy, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUnhealthy, err)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%w: parse response: %w", ErrUnhealthy, err)
	}

	if status, ok := result["status"].(string); ok && status == "ok" {
		return nil
	}

	return fmt.Errorf("%w: broker reported unhealthy status", ErrUnhealthy)
}

func (c *Connection) log(ctx context.Context, message string, fields ...log.Field) {
	c.logAtLevel(ctx, log.LevelDebug, message, fields...)
}

func (c *Connection) logAtLevel(ctx context.Context, level log.Level, message string, fields ...log.Field) {
	if c == nil || c.logger == nil {
		return
	}

	if !c.logger.Enabled(level) {
		return
	}

	c.logger.Log(ctx, level, message, fields...)
}

// normalizeConfig applies safe defaults, then validates.
func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Logger == nil {
		cfg.Logger = &log.NopLogger{}
	}

	cfg.ConnectionString = strings.TrimSpace(cfg.ConnectionString)
	cfg.HealthCheckURL = strings.TrimSpace(cfg.HealthCheckURL)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.ConnectionString == "" {
		return configError("connection string is required")
	}

	if _, err := amqp.ParseURI(cfg.ConnectionString); err != nil {
		return configError(fmt.Sprintf("malformed connection string: %v", err))
	}

	if cfg.HealthCheckURL != "" {
		if _, err := validateHealthCheckURL(cfg.HealthCheckURL); err != nil {
			return configError(fmt.Sprintf("invalid health check URL: %v", err))
		}
	}

	return validateHealthHTTPClient(cfg)
}

// validateHealthHTTPClient rejects custom HTTP clients that skip TLS
// verification unless AllowInsecureTLS acknowledges the risk.
func validateHealthHTTPClient(cfg Config) error {
	if cfg.HealthHTTPClient == nil {
		return nil
	}

	transport, ok := cfg.HealthHTTPClient.Transport.(*http.Transport)
	if !ok || transport.TLSClientConfig == nil {
		return nil
	}

	if transport.TLSClientConfig.InsecureSkipVerify && !cfg.AllowInsecureTLS {
		return ErrInsecureTLS
	}

	return nil
}

// validateHealthCheckURL validates the management API base URL and returns it
// with the alarms endpoint path appended when not already present.
//
// Security note: this function does NOT restrict which hosts can be targeted.
// The URL is assumed to come from trusted configuration. Callers whose threat
// model includes SSRF via configuration injection should allowlist permitted
// hosts at the application layer.
func validateHealthCheckURL(rawURL string) (string, error) {
	healthURL := strings.TrimSpace(rawURL)
	if healthURL == "" {
		return "", errors.New("rabbitmq health check URL is empty")
	}

	parsedURL, err := url.Parse(healthURL)
	if err != nil {
		return "", err
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", errors.New("rabbitmq health check URL must use http or https")
	}

	if parsedURL.Host == "" {
		return "", errors.New("rabbitmq health check URL must include a host")
	}

	if parsedURL.User != nil {
		return "", errors.New("rabbitmq health check URL must not include user credentials")
	}

	// Only append the health endpoint path if not already present.
	const healthPath = "/api/health/checks/alarms"

	normalized := strings.TrimSuffix(parsedURL.String(), "/")
	if strings.HasSuffix(normalized, healthPath) {
		return normalized, nil
	}

	return normalized + healthPath, nil
}

// sanitizedError wraps an original error with a redacted message.
// Error() returns the sanitized message; Unwrap() returns the original
// so that errors.Is / errors.As still work for programmatic inspection.
type sanitizedError struct {
	original error
	message  string
}

// Error returns the sanitized message.
func (e *sanitizedError) Error() string { return e.message }

// Unwrap returns the original wrapped error.
func (e *sanitizedError) Unwrap() error { return e.original }

// newSanitizedError wraps err with a human-readable prefix and redacted
// connection string.
func newSanitizedError(err error, connectionString, prefix string) error {
	return fmt.Errorf("%s: %w", prefix, &sanitizedError{
		original: err,
		message:  sanitizeAMQPErr(err, connectionString),
	})
}

// sanitizeAMQPErr removes connection string credentials from an error
// message. AMQP dial errors can echo the full URI, password included.
func sanitizeAMQPErr(err error, connectionString string) string {
	if err == nil {
		return ""
	}

	if connectionString == "" {
		return err.Error()
	}

	referenceURL, parseErr := url.Parse(connectionString)
	if parseErr != nil {
		return err.Error()
	}

	redactedURL := referenceURL.Redacted()

	errMsg := err.Error()
	if strings.Contains(errMsg, connectionString) {
		errMsg = strings.ReplaceAll(errMsg, connectionString, redactedURL)
	}

	if strings.Contains(errMsg, referenceURL.String()) {
		errMsg = strings.ReplaceAll(errMsg, referenceURL.String(), redactedURL)
	}

	// Redact the decoded password individually. It covers errors that echo
	// the password with URL-encoded special characters decoded.
	if referenceURL.User != nil {
		if pass, ok := referenceURL.User.Password(); ok && pass != "" {
			errMsg = strings.ReplaceAll(errMsg, pass, "xxxxx")
		}
	}

	return errMsg
}

// recordConnectionFailure increments the rabbitmq connection failure counter.
// No-op when metricsFactory is nil.
func (c *Connection) recordConnectionFailure(operation string) {
	if c.metricsFactory == nil {
		return
	}

	counter, err := c.metricsFactory.Counter(connectionFailuresMetric)
	if err != nil {
		c.logAtLevel(context.Background(), log.LevelWarn, "failed to create rabbitmq metric counter", log.Err(err))
		return
	}

	err = counter.
		WithLabels(map[string]string{
			"operation": constant.SanitizeMetricLabel(operation),
		}).
		AddOne(context.Background())
	if err != nil {
		c.logAtLevel(context.Background(), log.LevelWarn, "failed to record rabbitmq metric", log.Err(err))
	}
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

// BuildConnectionString constructs an AMQP connection string. If vhost is
// empty, the default vhost "/" is used (no path in the URL). Special
// characters in user, password, and vhost are URL-encoded automatically.
// Supports IPv6 hosts (e.g. "::1").
func BuildConnectionString(protocol, user, pass, host, port, vhost string) string {
	u := &url.URL{Scheme: protocol}
	if user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}

	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		// Bracket bare IPv6 addresses to avoid malformed URLs (e.g. amqp://user:pass@::1).
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			u.Host = "[" + host + "]"
		} else {
			u.Host = host
		}
	}

	if vhost != "" {
		// QueryEscape rather than PathEscape because RabbitMQ vhost names may
		// contain '/', which must be percent-encoded as %2F. QueryEscape
		// encodes '/' while PathEscape does not. The ReplaceAll converts
		// query-style space encoding (+) to path-style (%20).
		escapedVHost := url.QueryEscape(vhost)
		escapedVHost = strings.ReplaceAll(escapedVHost, "+", "%20")
		u.Path = "/" + vhost
		u.RawPath = "/" + escapedVHost
	}

	return u.String()
}
