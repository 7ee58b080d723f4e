package j1939

// Optional holds a value that the kernel may or may not have supplied.
// The zero value is "not present".
type Optional[T any] struct {
	value T
	isSet bool
}

// Some returns a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, isSet: true} }

// None returns an absent value.
func None[T any]() Optional[T] { return Optional[T]{} }

// IsSet reports whether the value is present.
func (o Optional[T]) IsSet() bool { return o.isSet }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.isSet }

// GetOr returns the value, or def when absent.
func (o Optional[T]) GetOr(def T) T {
	if o.isSet {
		return o.value
	}
	return def
}

// Set stores v and marks it present.
func (o *Optional[T]) Set(v T) {
	o.value = v
	o.isSet = true
}

// Unset clears the value.
func (o *Optional[T]) Unset() {
	var zero T
	o.value = zero
	o.isSet = false
}
