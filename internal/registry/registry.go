// Package registry provides an insertion-ordered, id-keyed collection used
// by the run trackers to resolve event identifiers to entities.
//
// Lookups go through a map; the exposed list preserves first-observed order.
// Ids are normalized before use, so two raw ids that differ only in
// surrounding whitespace resolve to the same entity and never produce two
// list entries.
package registry

import "strings"

// Normalize returns the canonical form of an entity id.
func Normalize(id string) string {
	return strings.TrimSpace(id)
}

// Registry is an insertion-ordered map from normalized id to value.
// The zero value is ready to use. It is not safe for concurrent use; the
// reducer that owns it is the single writer.
type Registry[T any] struct {
	index map[string]int
	keys  []string
	vals  []T
}

// Len returns the number of entities.
func (r *Registry[T]) Len() int {
	return len(r.keys)
}

// Get resolves id to its entity.
func (r *Registry[T]) Get(id string) (T, bool) {
	var zero T
	i, ok := r.index[Normalize(id)]
	if !ok {
		return zero, false
	}
	return r.vals[i], true
}

// Has reports whether id resolves to an entity.
func (r *Registry[T]) Has(id string) bool {
	_, ok := r.index[Normalize(id)]
	return ok
}

// Upsert resolves id and stores the value returned by fn. fn receives the
// existing value and whether it was found; a new id is appended at the end
// of the insertion order. Upsert reports false, and does nothing, when id
// normalizes to the empty string.
func (r *Registry[T]) Upsert(id string, fn func(existing T, found bool) T) bool {
	key := Normalize(id)
	if key == "" {
		return false
	}

	if i, ok := r.index[key]; ok {
		r.vals[i] = fn(r.vals[i], true)
		return true
	}

	var zero T
	if r.index == nil {
		r.index = make(map[string]int)
	}
	r.index[key] = len(r.keys)
	r.keys = append(r.keys, key)
	r.vals = append(r.vals, fn(zero, false))
	return true
}

// Update applies fn to every entity in insertion order.
func (r *Registry[T]) Update(fn func(id string, v T) T) {
	for i, k := range r.keys {
		r.vals[i] = fn(k, r.vals[i])
	}
}

// Values returns the entities in first-observed order. The slice is a copy;
// callers that store pointer types share the pointees.
func (r *Registry[T]) Values() []T {
	out := make([]T, len(r.vals))
	copy(out, r.vals)
	return out
}

// Keys returns the normalized ids in first-observed order.
func (r *Registry[T]) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Reset empties the registry.
func (r *Registry[T]) Reset() {
	r.index = nil
	r.keys = nil
	r.vals = nil
}

// Clone returns an independent registry. copyFn, when non-nil, is applied to
// every value so callers can deep-copy values that contain slices or maps.
func (r *Registry[T]) Clone(copyFn func(T) T) *Registry[T] {
	c := &Registry[T]{
		index: make(map[string]int, len(r.index)),
		keys:  make([]string, len(r.keys)),
		vals:  make([]T, len(r.vals)),
	}
	copy(c.keys, r.keys)
	for k, i := range r.index {
		c.index[k] = i
	}
	for i, v := range r.vals {
		if copyFn != nil {
			v = copyFn(v)
		}
		c.vals[i] = v
	}
	return c
}
