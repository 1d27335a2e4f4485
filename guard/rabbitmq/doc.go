// Package rabbitmq acquires verified RabbitMQ handles for wiring-time use.
//
// New dials the broker, opens a channel, and optionally probes the management
// API alarm endpoint. GetConnection and GetChannel hand back NonNil-wrapped
// amqp091 handles, reopening dead channels or redialing closed connections on
// demand. Acquisition failures are reported as errors; on error the returned
// wrapper is the zero value and using it is itself a contract violation. The
// Must variants fail fast instead, for boot paths where a missing broker
// should stop the process.
package rabbitmq
