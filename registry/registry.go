// Package registry provides the concurrent map that engines keep their live
// sessions in. The reactor goroutine inserts and removes entries; handles on
// other goroutines enumerate them.
package registry

import (
	"sync"
	"sync/atomic"
)

// Registry is a type-safe concurrent map built on sync.Map with an O(1)
// length. It must not be copied after first use.
type Registry[K comparable, V any] struct {
	m     sync.Map
	count atomic.Int64
}

// New returns an empty Registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{}
}

// Store sets the value for k, overwriting any existing value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (r *Registry[K, V]) Store(k K, v V) {
	if _, loaded := r.m.Swap(k, v); !loaded {
		r.count.Add(1)
	}
}

// Load returns the value for k and whether it was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value, or the zero value of V if absent
//   - true if the key was present
func (r *Registry[K, V]) Load(k K) (V, bool) {
	v, found := r.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Remove deletes k and returns the value it held. Removing an absent key is a
// no-op that reports false, so concurrent or repeated removals of the same key
// succeed exactly once.
//
// Parameters:
//   - k: The key to remove
//
// Returns:
//   - The removed value, or the zero value of V
//   - true only for the call that actually removed the entry
func (r *Registry[K, V]) Remove(k K) (V, bool) {
	v, loaded := r.m.LoadAndDelete(k)
	if !loaded {
		var empty V
		return empty, false
	}

	r.count.Add(-1)
	return v.(V), true
}

// Has reports whether k is present.
func (r *Registry[K, V]) Has(k K) bool {
	_, found := r.m.Load(k)
	return found
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	return int(r.count.Load())
}

// Range calls f for each entry until f returns false. Entries stored or
// removed during the call may or may not be visited.
func (r *Registry[K, V]) Range(f func(k K, v V) bool) {
	r.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Values returns a snapshot of the current values.
func (r *Registry[K, V]) Values() []V {
	out := make([]V, 0, r.Len())
	r.Range(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})

	return out
}
