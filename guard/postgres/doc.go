// Package postgres acquires PostgreSQL primary/replica pools behind a single
// round-robin resolver and hands the handle out as a NonNil.
//
// The connection path is verified end to end: open both pools, build the
// resolver, run pending migrations, ping. GetDB returns
// NonNil[dbresolver.DB] with an error, MustDB fails fast instead, so boot
// code either holds a working database handle or the process stops with a
// contract violation. On error the returned wrapper is the zero value;
// using it is itself a contract violation.
package postgres
