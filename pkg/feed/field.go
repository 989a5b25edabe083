package feed

import (
	"bytes"
	"encoding/json"
)

// Field is a tri-state record value: absent, explicit null, or set. Absent
// fields leave the target untouched when a record is applied; an explicit
// null clears the target. Only fields documented as nullable-settable use
// Field; plain optional fields are pointers.
//
// The zero Field is absent, so records decoded with encoding/json get the
// right state without extra bookkeeping: a missing key never reaches
// UnmarshalJSON, a literal null does.
type Field[T any] struct {
	present bool
	null    bool
	value   T
}

// Set returns a Field carrying v.
func Set[T any](v T) Field[T] {
	return Field[T]{present: true, value: v}
}

// Null returns an explicit-null Field.
func Null[T any]() Field[T] {
	return Field[T]{present: true, null: true}
}

// IsSet reports whether the field was present in the record at all,
// including as an explicit null.
func (f Field[T]) IsSet() bool { return f.present }

// IsNull reports whether the field was an explicit null.
func (f Field[T]) IsNull() bool { return f.present && f.null }

// Value returns the carried value. ok is false for absent and null fields.
func (f Field[T]) Value() (v T, ok bool) {
	if !f.present || f.null {
		return v, false
	}
	return f.value, true
}

// IsZero reports absence, letting omitzero drop the key on encode.
func (f Field[T]) IsZero() bool { return !f.present }

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.present || f.null {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.present = true
	if bytes.Equal(data, []byte("null")) {
		f.null = true
		var zero T
		f.value = zero
		return nil
	}
	f.null = false
	return json.Unmarshal(data, &f.value)
}
