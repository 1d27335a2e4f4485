// Package redis provides Redis/Valkey client acquisition with topology
// support, handing the verified client out as a NonNil.
//
// Supported deployment modes include standalone, sentinel, and cluster.
// Authentication uses static passwords; TLS validation is configurable with
// a base64-encoded CA certificate. GetClient reconnects on demand with a
// single attempt and MustClient fails fast, so boot code either holds a
// pinged client or the process stops with a contract violation.
package redis
