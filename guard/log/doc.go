// Package log defines the logging interface and typed logging fields used
// across the library.
//
// Adapters (such as the zap package) implement Logger so applications can keep
// logging calls consistent across backends. Packages that are not handed an
// explicit Logger fall back to a no-op.
package log
