package guard

import (
	"context"
	"reflect"

	"github.com/LerianStudio/lib-guard/guard/fail"
	"github.com/LerianStudio/lib-guard/guard/internal/nilcheck"
)

// component labels violations raised by the wrapper itself in metrics and
// span events.
const component = "guard"

// NonNil holds exactly one reference-like value that is guaranteed non-nil.
//
// The guarantee covers every path that can observe a wrapper: construction
// (New), assignment (Set), conversion (Convert), and plain struct copy (the
// source was already valid). Go permits one construction path the type
// system cannot close, the zero value `var w NonNil[*T]`; accessors trap it
// by re-checking the invariant before handing the value out, so no caller
// ever receives nil from a NonNil.
//
// A NonNil[T] is exactly the size of T. Wrappers over comparable types are
// comparable and usable as map keys.
//
// T must be a nilable kind: pointer, interface, map, slice, channel, or
// function. Wrapping a value kind (int, string, struct...) is rejected as
// misuse at construction time, since such a type cannot be nil and gains
// nothing from the wrapper.
type NonNil[T any] struct {
	value T
}

// New wraps value, failing fast when value is nil (typed nils included) or
// when T is not a nilable kind.
//
// Nil literals are rejected at compile time: guard.New(nil) does not
// compile because untyped nil cannot instantiate T. Only nil values
// arriving through variables or conversions reach the runtime check.
//
// Example:
//
//	cfg := loadConfig()
//	db := guard.New(mustConnect(cfg)) // panics at boot if mustConnect returned nil
func New[T any](value T) NonNil[T] {
	ensureWrappable[T]("new")
	ensureNonNil("new", value)

	return NonNil[T]{value: value}
}

// Get returns the held value. It re-checks the invariant first, trapping
// zero-value wrappers that bypassed New; a valid wrapper never fails here.
func (n NonNil[T]) Get() T {
	ensureWrappable[T]("get")
	ensureNonNil("get", n.value)

	return n.value
}

// Set replaces the held value with the same checks as New.
func (n *NonNil[T]) Set(value T) {
	ensureWrappable[T]("set")
	ensureNonNil("set", value)

	n.value = value
}

// Deref returns the value a pointer-holding wrapper points to. It is only
// defined for pointer instantiations; other kinds are compile-rejected.
// The dereference is unconditionally safe: Get has already established the
// pointer is non-nil.
func Deref[E any](n NonNil[*E]) E {
	return *n.Get()
}

// Equal reports whether the held value equals other. It is only defined for
// comparable T; other kinds are compile-rejected.
func Equal[T comparable](n NonNil[T], other T) bool {
	return n.Get() == other
}

// Convert builds a NonNil[T] from a NonNil[U] through conv. The U-to-T
// relationship is whatever conv compiles for; because conversions are
// caller-extensible and could yield nil, the result is re-run through the
// full invariant check rather than copied raw.
//
// Example:
//
//	w := guard.New(&bytes.Buffer{})
//	r := guard.Convert(w, func(b *bytes.Buffer) io.Reader { return b })
func Convert[U, T any](n NonNil[U], conv func(U) T) NonNil[T] {
	ensureWrappable[T]("convert")
	fail.In(component, "convert").Fast(context.Background(), conv != nil,
		"conversion function must not be nil")

	value := conv(n.Get())
	ensureNonNil("convert", value)

	return NonNil[T]{value: value}
}

// ensureWrappable fails fast when T is a kind that can never be nil.
func ensureWrappable[T any](operation string) {
	t := reflect.TypeFor[T]()

	fail.In(component, operation).Fast(context.Background(), nilcheck.NilableKind(t.Kind()),
		"NonNil requires a nilable type parameter",
		"type", t.String(), "kind", t.Kind().String())
}

// ensureNonNil fails fast when value is nil, including typed nils.
func ensureNonNil[T any](operation string, value T) {
	fail.In(component, operation).Fast(context.Background(), !nilcheck.IsNil(value),
		"non-nil invariant violated",
		"type", reflect.TypeFor[T]().String())
}
