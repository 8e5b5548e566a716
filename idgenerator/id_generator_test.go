package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("returns non-nil generator", func(t *testing.T) {
		gen := NewIdGenerator(0)
		require.NotNil(t, gen)
		assert.Equal(t, uint64(0), gen.Last())
		assert.Equal(t, uint64(0), gen.Issued())
	})

	t.Run("first Id skips the reserved start value", func(t *testing.T) {
		gen := NewIdGenerator(0)
		assert.Equal(t, uint64(1), gen.Id())
	})

	t.Run("first Id follows a non-zero start", func(t *testing.T) {
		gen := NewIdGenerator(100)
		assert.Equal(t, uint64(101), gen.Id())
		assert.Equal(t, uint64(1), gen.Issued())
	})
}

func TestIdGenerator_Id_sequential(t *testing.T) {
	gen := NewIdGenerator(0)
	for want := uint64(1); want <= 10; want++ {
		assert.Equal(t, want, gen.Id())
	}
	assert.Equal(t, uint64(10), gen.Last())
	assert.Equal(t, uint64(10), gen.Issued())
}

func TestIdGenerator_Id_concurrent(t *testing.T) {
	gen := NewIdGenerator(0)
	const n = 500
	ids := make([]uint64, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			ids[idx] = gen.Id()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		assert.GreaterOrEqual(t, id, uint64(1))
		assert.LessOrEqual(t, id, uint64(n))
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestIdGenerator_generators_are_independent(t *testing.T) {
	gen1 := NewIdGenerator(0)
	gen2 := NewIdGenerator(0)

	assert.Equal(t, uint64(1), gen1.Id())
	assert.Equal(t, uint64(1), gen2.Id())
	assert.Equal(t, uint64(2), gen1.Id())
	assert.Equal(t, uint64(2), gen2.Id())
}
