package ports

import (
	"sync"
	"testing"

	"github.com/R1ck404/mercel/internal/core/domain"
	coreports "github.com/R1ck404/mercel/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, low, high int) *Allocator {
	t.Helper()
	a, err := NewAllocator(coreports.Range{Low: low, High: high}, nil)
	require.NoError(t, err)
	return a
}

func TestNewAllocator_InvalidRange(t *testing.T) {
	_, err := NewAllocator(coreports.Range{Low: 10, High: 1}, nil)
	assert.Error(t, err)
}

func TestAllocator_ReserveAscending(t *testing.T) {
	a := newTestAllocator(t, 5000, 5002)

	for _, want := range []int{5000, 5001, 5002} {
		got, err := a.Reserve()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := a.Reserve()
	assert.ErrorIs(t, err, domain.ErrNoCapacity)
}

func TestAllocator_ReleaseThenReserveReturnsSamePort(t *testing.T) {
	a := newTestAllocator(t, 5000, 5002)

	p1, _ := a.Reserve()
	p2, _ := a.Reserve()
	a.Release(p1)

	got, err := a.Reserve()
	require.NoError(t, err)
	assert.Equal(t, p1, got)
	assert.NotEqual(t, p2, got)
}

func TestAllocator_ReleaseIsIdempotent(t *testing.T) {
	a := newTestAllocator(t, 5000, 5001)

	p, _ := a.Reserve()
	a.Release(p)
	a.Release(p)
	a.Release(4242)

	assert.Equal(t, 0, a.InUse())
}

func TestAllocator_ConcurrentReserveBeyondCapacity(t *testing.T) {
	const n = 25
	a := newTestAllocator(t, 6000, 6000+n-1)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		got      = make(map[int]int)
		failures int
	)
	start := make(chan struct{})
	for i := 0; i < n+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			port, err := a.Reserve()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrNoCapacity)
				failures++
				return
			}
			got[port]++
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, failures)
	assert.Len(t, got, n)
	for port, count := range got {
		assert.Equal(t, 1, count, "port %d handed out twice", port)
	}
}

func TestAllocator_ReleaseEnvironment(t *testing.T) {
	a := newTestAllocator(t, 5000, 5005)

	p, _ := a.Reserve()
	require.NoError(t, a.Bind(p, "env-a"))

	port, ok := a.ReleaseEnvironment("env-a")
	assert.True(t, ok)
	assert.Equal(t, p, port)
	assert.False(t, a.Held(p))

	// A late event for the old owner must not free the port once it has
	// been reserved again for someone else.
	again, _ := a.Reserve()
	require.Equal(t, p, again)
	require.NoError(t, a.Bind(again, "env-b"))

	_, ok = a.ReleaseEnvironment("env-a")
	assert.False(t, ok)
	assert.True(t, a.Held(p))
}

func TestAllocator_BindRequiresReservation(t *testing.T) {
	a := newTestAllocator(t, 5000, 5005)
	assert.Error(t, a.Bind(5003, "env"))
}

func TestAllocator_Claim(t *testing.T) {
	a := newTestAllocator(t, 5000, 5005)

	assert.True(t, a.Claim(5000, "env-a"))
	assert.False(t, a.Claim(5000, "env-b"))
	assert.False(t, a.Claim(7000, "env-c"))

	p, err := a.Reserve()
	require.NoError(t, err)
	assert.Equal(t, 5001, p)
}
