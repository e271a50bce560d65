// Package normalization maps free-form configuration strings onto typed
// enumerations.
package normalization

import (
	"slices"
	"strings"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
)

// Enum recognizes a fixed set of values of a string type. Input is matched
// case-insensitively after trimming surrounding space.
type Enum[T ~string] struct {
	name   string
	values map[string]T
	keys   []string
	def    T
}

// NewEnum creates an enumeration called name (used in error messages)
// whose empty value is def.
func NewEnum[T ~string](name string, def T, values ...T) *Enum[T] {
	e := &Enum[T]{name: name, values: make(map[string]T, len(values)), def: def}
	for _, v := range values {
		k := clean(string(v))
		e.values[k] = v
		e.keys = append(e.keys, k)
	}
	slices.Sort(e.keys)
	return e
}

// Normalize returns the value raw names, or the default when raw is empty
// or unknown.
func (e *Enum[T]) Normalize(raw string) T {
	if v, ok := e.values[clean(raw)]; ok {
		return v
	}
	return e.def
}

// Parse returns the value raw names. Empty input yields the default.
func (e *Enum[T]) Parse(raw string) (T, error) {
	k := clean(raw)
	if k == "" {
		return e.def, nil
	}
	if v, ok := e.values[k]; ok {
		return v, nil
	}
	var zero T
	return zero, foundation.ValidationError("invalid "+e.name).
		WithContext("value", raw).
		WithContext("valid", strings.Join(e.keys, ", ")).
		Build()
}

// Keys returns the recognized spellings, sorted.
func (e *Enum[T]) Keys() []string { return slices.Clone(e.keys) }

func clean(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
