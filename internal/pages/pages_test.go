package pages

import (
	"math"
	"testing"

	"github.com/CS161/PugOS/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFindMaxOrder pins the exact concrete vectors spec section 8 names.
func TestFindMaxOrder(t *testing.T) {
	assert.Equal(t, -1, FindMaxOrder(7, 10))
	assert.Equal(t, 12, FindMaxOrder(0x1000, 0x10000))
	assert.Equal(t, 16, FindMaxOrder(0x10000, 0xFFFFFFFFFFF))
	assert.Equal(t, MaxOrder, FindMaxOrder(0, math.MaxUint64))
}

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	size := uintptr(1) << uint(MaxOrder+2)
	a, err := New(0, size, []Range{{Start: 0, End: size, Kind: Available}})
	require.NoError(t, err)
	return a
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t)
	pa := a.AllocPage()
	require.NotZero(t, pa)
	a.Free(pa)

	stats := a.Stats()
	total := 0
	for _, n := range stats {
		total += n
	}
	assert.Greater(t, total, 0)
}

// TestBuddyCoalesce exercises the full split-then-coalesce cycle: two
// MinOrder allocations split larger free blocks, and once both pages are
// freed the buddies coalesce so every free list is back to its count
// before the allocations.
func TestBuddyCoalesce(t *testing.T) {
	a := newTestAllocator(t)

	before := a.Stats()

	p1 := a.AllocOrder(MinOrder)
	require.NotZero(t, p1)
	p2 := a.AllocOrder(MinOrder)
	require.NotZero(t, p2)

	a.Free(p1)
	a.Free(p2)

	after := a.Stats()
	assert.Equal(t, before[MaxOrder], after[MaxOrder])
	assert.Equal(t, before, after)
}

func TestAllocExhaustion(t *testing.T) {
	size := uintptr(1) << uint(MinOrder)
	// The one-page arena starts at size rather than 0: address 0 is the
	// null address Alloc reports failure with.
	a, err := New(size, size, []Range{{Start: size, End: 2 * size, Kind: Available}})
	require.NoError(t, err)

	pa := a.AllocPage()
	require.NotZero(t, pa)

	none := a.AllocPage()
	assert.Zero(t, none)
}

func TestFreeNullIsNoop(t *testing.T) {
	a := newTestAllocator(t)
	assert.NotPanics(t, func() { a.Free(common.Pa_t(0)) })
}

func TestDoubleFreePanics(t *testing.T) {
	a := newTestAllocator(t)
	pa := a.AllocPage()
	require.NotZero(t, pa)
	a.Free(pa)
	assert.Panics(t, func() { a.Free(pa) })
}

func TestBytesViewsBackingArena(t *testing.T) {
	a := newTestAllocator(t)
	pa := a.AllocPage()
	require.NotZero(t, pa)

	buf := a.Bytes(pa)
	require.Len(t, buf, PageSize)
	buf[0] = 0x42
	assert.Equal(t, byte(0x42), a.Bytes(pa)[0])
}
