// Package safeset provides a mutex-guarded set. Engines use it to track the
// connections that have packets waiting to be written.
package safeset

import "sync"

// SafeSet is a thread-safe set of comparable elements.
type SafeSet[T comparable] struct {
	m map[T]struct{}
	sync.RWMutex
}

// NewSafeSet creates and returns a new empty SafeSet.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add adds value and reports whether it was not already present.
//
// Parameters:
//   - value: The element to add
//
// Returns:
//   - true if the set did not contain value before the call
func (s *SafeSet[T]) Add(value T) bool {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.m[value]; ok {
		return false
	}

	s.m[value] = struct{}{}
	return true
}

// Remove removes value from the set. Removing an absent value is a no-op.
func (s *SafeSet[T]) Remove(value T) {
	s.Lock()
	defer s.Unlock()
	delete(s.m, value)
}

// Contains reports whether the set contains value.
func (s *SafeSet[T]) Contains(value T) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.m[value]
	return ok
}

// Size returns the number of elements in the set.
func (s *SafeSet[T]) Size() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.m)
}

// Drain empties the set and returns the elements it held, in no particular
// order. Elements added after Drain returns are kept for the next call.
//
// Returns:
//   - The removed elements; nil if the set was empty
func (s *SafeSet[T]) Drain() []T {
	s.Lock()
	defer s.Unlock()

	if len(s.m) == 0 {
		return nil
	}

	out := make([]T, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	s.m = make(map[T]struct{})

	return out
}

// Reset removes all elements from the set, leaving it empty.
func (s *SafeSet[T]) Reset() {
	s.Lock()
	defer s.Unlock()
	s.m = make(map[T]struct{})
}
