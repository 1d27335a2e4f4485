// Package nilcheck classifies values and kinds by their capacity to hold nil.
package nilcheck

import "reflect"

// IsNil reports whether value is nil, including typed nils carried inside a
// non-nil interface.
func IsNil(value any) bool {
	if value == nil {
		return true
	}

	v := reflect.ValueOf(value)
	if !NilableKind(v.Kind()) {
		return false
	}

	return v.IsNil()
}

// NilableKind reports whether values of the given kind can represent nil at
// all. Value kinds (numbers, strings, structs, arrays, booleans) cannot.
func NilableKind(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	default:
		return false
	}
}
