package constant

// TelemetrySDKName identifies this library in OTEL telemetry resource attributes.
const TelemetrySDKName = "lib-guard"

// MaxMetricLabelLength is the maximum length for metric labels to prevent cardinality explosion.
// Used by the fail and connector packages for label sanitization.
const MaxMetricLabelLength = 64

// Telemetry attribute key prefixes.
const (
	// AttrPrefixViolation is the prefix for contract violation event attributes.
	AttrPrefixViolation = "violation."
	// AttrPrefixPanic is the prefix for panic event attributes.
	AttrPrefixPanic = "panic."
)

// Telemetry attribute keys for database connectors.
const (
	// AttrDBSystem is the OTEL semantic convention attribute key for the database system name.
	AttrDBSystem = "db.system"
	// AttrDBName is the OTEL semantic convention attribute key for the database name.
	AttrDBName = "db.name"
	// AttrDBMongoDBCollection is the OTEL semantic convention attribute key for the MongoDB collection.
	AttrDBMongoDBCollection = "db.mongodb.collection"
)

// Database system identifiers used as values for AttrDBSystem.
const (
	// DBSystemPostgreSQL is the OTEL semantic convention value for PostgreSQL.
	DBSystemPostgreSQL = "postgresql"
	// DBSystemMongoDB is the OTEL semantic convention value for MongoDB.
	DBSystemMongoDB = "mongodb"
	// DBSystemRedis is the OTEL semantic convention value for Redis.
	DBSystemRedis = "redis"
	// DBSystemRabbitMQ is the OTEL semantic convention value for RabbitMQ.
	DBSystemRabbitMQ = "rabbitmq"
)

// Telemetry metric names.
const (
	// MetricViolationTotal is the counter metric for contract violations.
	MetricViolationTotal = "guard_violation_total"
	// MetricPanicRecoveredTotal is the counter metric for panics recovered by transport middleware.
	MetricPanicRecoveredTotal = "guard_panic_recovered_total"
)

// Telemetry event names.
const (
	// EventViolation is the span event name for contract violations.
	EventViolation = "guard.violation"
	// EventPanicRecovered is the span event name for recovered panics.
	EventPanicRecovered = "guard.panic.recovered"
)

// SanitizeMetricLabel truncates a label value to MaxMetricLabelLength
// to prevent metric cardinality explosion in OTEL backends.
func SanitizeMetricLabel(value string) string {
	if len(value) > MaxMetricLabelLength {
		return value[:MaxMetricLabelLength]
	}

	return value
}
