package inference

import "reflect"

// Value is an opaque input, supervision or output. The engine never inspects
// it beyond existence and identity checks.
type Value = any

// IsMissing reports whether v holds no value. Typed nil pointers, maps,
// slices, channels and funcs count as missing.
func IsMissing(v Value) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Same reports whether a and b are the same value. Reference kinds compare by
// identity, comparable kinds by ==, anything else is never the same.
func Same(a, b Value) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
	}
	if !ra.Type().Comparable() {
		return false
	}
	// Structs holding interfaces may still panic on ==.
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// lengthOf returns the length of a slice or array value, or -1.
func lengthOf(v Value) int {
	if v == nil {
		return -1
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len()
	}
	return -1
}

// elementAt returns element i of a slice or array value, or nil when out of range.
func elementAt(v Value, i int) Value {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if i >= 0 && i < rv.Len() {
			return rv.Index(i).Interface()
		}
	}
	return nil
}
