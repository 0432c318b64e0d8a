package ports

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ScansFromBase(t *testing.T) {
	a := NewAllocator(4000, 4005)

	p1, err := a.Acquire(0)
	require.NoError(t, err)
	assert.Equal(t, 4000, p1)

	p2, err := a.Acquire(0)
	require.NoError(t, err)
	assert.Equal(t, 4001, p2)
}

func TestAcquire_PreferredPort(t *testing.T) {
	a := NewAllocator(4000, 4005)

	p, err := a.Acquire(4003)
	require.NoError(t, err)
	assert.Equal(t, 4003, p)

	// Preferred port already held: fall back to the scan.
	p, err = a.Acquire(4003)
	require.NoError(t, err)
	assert.Equal(t, 4000, p)
}

func TestAcquire_PreferredOutsideRange(t *testing.T) {
	a := NewAllocator(4000, 4005)

	_, err := a.Acquire(5000)
	assert.True(t, errors.Is(err, ErrPortOutOfRange))
	assert.False(t, a.Held(5000))

	_, err = a.Acquire(3999)
	assert.True(t, errors.Is(err, ErrPortOutOfRange))

	// The range itself is untouched by rejected requests.
	p, err := a.Acquire(0)
	require.NoError(t, err)
	assert.Equal(t, 4000, p)
}

func TestAcquire_Exhausted(t *testing.T) {
	a := NewAllocator(4000, 4002)

	for i := 0; i < 3; i++ {
		_, err := a.Acquire(0)
		require.NoError(t, err)
	}

	_, err := a.Acquire(0)
	assert.True(t, errors.Is(err, ErrPortUnavailable))
}

func TestRelease_AllowsReuse(t *testing.T) {
	a := NewAllocator(4000, 4000)

	p, err := a.Acquire(0)
	require.NoError(t, err)
	assert.Equal(t, 4000, p)

	_, err = a.Acquire(0)
	require.Error(t, err)

	a.Release(p)
	p, err = a.Acquire(0)
	require.NoError(t, err)
	assert.Equal(t, 4000, p)
}

func TestRelease_UnheldIsNoop(t *testing.T) {
	a := NewAllocator(4000, 4005)
	a.Release(4999)

	p, err := a.Acquire(0)
	require.NoError(t, err)
	assert.Equal(t, 4000, p)
}

func TestReserve_SeedsHeldTable(t *testing.T) {
	a := NewAllocator(4000, 4002)
	a.Reserve(4000)
	a.Reserve(4001)

	assert.True(t, a.Held(4000))

	p, err := a.Acquire(0)
	require.NoError(t, err)
	assert.Equal(t, 4002, p)
}

func TestAcquire_ConcurrentCallersGetDistinctPorts(t *testing.T) {
	const n = 50
	a := NewAllocator(4000, 4000+n-1)

	var mu sync.Mutex
	seen := make(map[int]bool)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Acquire(0)
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[p], "port %d handed out twice", p)
			seen[p] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}
