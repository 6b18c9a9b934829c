package arbor

import (
	"fmt"
	"reflect"
)

// Ensure the control kinds satisfy Control.
var (
	_ Control = (*Field[string])(nil)
	_ Control = (*Group)(nil)
	_ Control = (*Array)(nil)
)

// Field is a leaf control holding a scalar value of type T.
type Field[T any] struct {
	*node
	value   T
	initial T
}

// NewField creates a leaf control with an initial value and optional
// validators. Validity is computed immediately, so a required field
// constructed empty starts out Invalid.
func NewField[T any](initial T, vs ...Validator) *Field[T] {
	f := &Field[T]{value: initial, initial: initial}
	f.node = newNode(f)
	f.validators = vs
	f.revalidateLocal(updateOpts{onlySelf: true, skipEmit: true})
	return f
}

// Current returns the typed current value.
func (f *Field[T]) Current() T {
	f.tree.mu.Lock()
	defer f.tree.mu.Unlock()
	return f.value
}

// Set is the typed counterpart of SetValue.
func (f *Field[T]) Set(v T, opts ...UpdateOption) {
	f.SetValue(v, opts...)
}

func (f *Field[T]) computeValue(bool) any { return f.value }

func (f *Field[T]) applyValue(v any, patch bool, _ updateOpts) {
	tv, ok := coerce[T](v)
	if !ok {
		// Patching is lenient: external data (a restore, a partial update)
		// that does not fit the field's type leaves it untouched.
		if patch {
			return
		}
		panic(fmt.Sprintf("arbor: cannot assign %T to a field of %T", v, f.value))
	}
	f.value = tv
}

func (f *Field[T]) children() []Control { return nil }

func (f *Field[T]) resetSelf(updateOpts) { f.value = f.initial }

// coerce converts v to T. Direct assertion first; numeric values convert
// across numeric kinds so JSON-decoded float64s restore cleanly into
// integer fields.
func coerce[T any](v any) (T, bool) {
	if tv, ok := v.(T); ok {
		return tv, true
	}
	var zero T
	if v == nil {
		return zero, true
	}
	rt := reflect.TypeOf(zero)
	if rt == nil {
		return zero, false
	}
	rv := reflect.ValueOf(v)
	if numericKind(rv.Kind()) && numericKind(rt.Kind()) {
		return rv.Convert(rt).Interface().(T), true
	}
	return zero, false
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
