package safeset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	s := NewSafeSet[uint64]()
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Size())
	assert.False(t, s.Contains(1))
}

func TestSafeSet_Add(t *testing.T) {
	s := NewSafeSet[uint64]()

	t.Run("first add reports new element", func(t *testing.T) {
		assert.True(t, s.Add(1))
		assert.True(t, s.Contains(1))
	})

	t.Run("duplicate add reports existing element", func(t *testing.T) {
		assert.False(t, s.Add(1))
		assert.Equal(t, 1, s.Size())
	})
}

func TestSafeSet_Remove(t *testing.T) {
	s := NewSafeSet[uint64]()
	s.Add(1)
	s.Add(2)

	s.Remove(1)
	assert.False(t, s.Contains(1))
	assert.True(t, s.Contains(2))

	s.Remove(42)
	assert.Equal(t, 1, s.Size())
}

func TestSafeSet_Drain(t *testing.T) {
	t.Run("returns and clears all elements", func(t *testing.T) {
		s := NewSafeSet[uint64]()
		s.Add(3)
		s.Add(1)
		s.Add(2)

		assert.ElementsMatch(t, []uint64{1, 2, 3}, s.Drain())
		assert.Equal(t, 0, s.Size())
	})

	t.Run("empty set drains to nil", func(t *testing.T) {
		assert.Nil(t, NewSafeSet[uint64]().Drain())
	})

	t.Run("elements added afterwards are kept", func(t *testing.T) {
		s := NewSafeSet[uint64]()
		s.Add(1)
		s.Drain()
		s.Add(2)
		assert.Equal(t, []uint64{2}, s.Drain())
	})
}

func TestSafeSet_Reset(t *testing.T) {
	s := NewSafeSet[uint64]()
	s.Add(1)
	s.Reset()
	assert.Equal(t, 0, s.Size())
}

func TestSafeSet_Concurrent(t *testing.T) {
	s := NewSafeSet[int]()
	const goroutines = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	drained := make(map[int]int)

	wg.Add(goroutines * 2)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			s.Add(id)
		}(g)
		go func() {
			defer wg.Done()
			for _, v := range s.Drain() {
				mu.Lock()
				drained[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, v := range s.Drain() {
		drained[v]++
	}

	assert.Len(t, drained, goroutines)
	for v, n := range drained {
		assert.Equal(t, 1, n, "element %d drained more than once", v)
	}
}
