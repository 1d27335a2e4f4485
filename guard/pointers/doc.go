// Package pointers provides helpers for pointer creation and conversions on
// the explicitly-nullable side of the library.
//
// Where guard.NonNil makes absence unrepresentable, this package is for the
// places absence is the point: optional DTO fields, partial updates, and test
// fixtures. Use it to reduce boilerplate while keeping pointer semantics
// explicit at call sites, and convert to a NonNil wrapper only at the
// boundary where the value becomes mandatory.
package pointers
