package pointers

// Ref returns a pointer to value. The result is never nil, which makes Ref
// the natural feed for optional struct fields and for guard.New at
// boundaries where the value stops being optional.
func Ref[T any](value T) *T {
	return &value
}

// Deref returns the value ptr points to, or the zero value of T when ptr is
// nil.
func Deref[T any](ptr *T) T {
	if ptr == nil {
		var zero T

		return zero
	}

	return *ptr
}

// DerefOr returns the value ptr points to, or fallback when ptr is nil.
func DerefOr[T any](ptr *T, fallback T) T {
	if ptr == nil {
		return fallback
	}

	return *ptr
}

// IsNilOrZero reports whether ptr is nil or points to T's zero value. It is
// the usual "field effectively absent" test for optional DTO fields.
func IsNilOrZero[T comparable](ptr *T) bool {
	var zero T

	return ptr == nil || *ptr == zero
}

// Clone returns a pointer to a shallow copy of the pointee, or nil when ptr
// is nil. Use it to detach an optional field from the struct it came from
// before mutating it.
func Clone[T any](ptr *T) *T {
	if ptr == nil {
		return nil
	}

	copied := *ptr

	return &copied
}
