// Package guard provides invariant-carrying reference types.
//
// NonNil[T] wraps a single reference-like value (pointer, interface, map,
// slice, channel, or function) and guarantees it is non-nil after every
// public constructor or mutator returns. The wrapper adds no storage:
// a NonNil[T] is exactly the size of T, and wrappers over comparable types
// remain comparable and usable as map keys.
//
// The guarantee is enforced fail-fast through guard/fail: constructing or
// assigning a nil value panics with a *fail.Violation, and every accessor
// re-checks the invariant so that zero-value wrappers (which Go cannot
// forbid syntactically) are trapped at first use instead of leaking nil.
// There is no error-returning variant by design; "might be nil" must stay
// unrepresentable in the type. Callers that need optionality should pass
// plain pointers and convert at the boundary (see guard/pointers).
//
// Owner[T] is a transparent generic alias documenting release
// responsibility: a function returning Owner[*Conn] is announcing that the
// caller must close it. It compiles to exactly T everywhere.
//
// Typical wiring-time usage:
//
//	db := guard.New(connectPrimary(cfg)) // panics at boot if nil
//	repo := NewRepository(db)            // repo code never nil-checks again
package guard
