// Package constant provides shared constant values used across the library.
//
// Keep this package free of runtime behavior.
// It is used by the guard, fail, and connector packages to avoid duplicated literals.
package constant
