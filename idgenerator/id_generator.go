// Package idgenerator hands out connection identifiers. Each engine owns its
// own generator, so identifier spaces never overlap between engines in the
// same process and no global counter exists.
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing uint64 IDs in a
// concurrency-safe manner. The first Id() returns start+1, which lets callers
// reserve the values up to start (for example a listener token of 0).
type IdGenerator struct {
	start uint64
	id    atomic.Uint64
}

// NewIdGenerator creates an IdGenerator whose first ID is startValue+1.
//
// Parameters:
//   - startValue: The highest reserved value
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint64) *IdGenerator {
	gen := &IdGenerator{
		start: startValue,
	}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next unique ID.
func (l *IdGenerator) Id() uint64 {
	return l.id.Add(1)
}

// Last returns the most recently issued ID, or the start value if none was
// issued yet.
func (l *IdGenerator) Last() uint64 {
	return l.id.Load()
}

// Issued returns how many IDs have been handed out.
func (l *IdGenerator) Issued() uint64 {
	return l.id.Load() - l.start
}
