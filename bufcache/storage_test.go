package bufcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAllocator() (Allocator, *int) {
	calls := 0
	return func(size uint64) (*CachedBuffer, error) {
		calls++
		return &CachedBuffer{size: size}, nil
	}, &calls
}

func TestStorageCacheReusesFreedAllocation(t *testing.T) {
	alloc, calls := fakeAllocator()
	cache := NewStorageCache(alloc)

	b1, err := cache.Get(1024)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, uint64(1024), cache.UsedMemory())

	cache.Recycle(b1)
	assert.Equal(t, uint64(0), cache.UsedMemory())
	assert.Equal(t, uint64(1024), cache.FreeMemory())

	b2, err := cache.Get(1024)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls, "second Get of the same size should reuse the freed allocation")
	assert.Same(t, b1, b2)
}

func TestStorageCacheRemoveUnusedReleasesAll(t *testing.T) {
	alloc, _ := fakeAllocator()
	cache := NewStorageCache(alloc)

	b, err := cache.Get(256)
	require.NoError(t, err)
	cache.Recycle(b)

	released := 0
	cache.RemoveUnused(func(c *CachedBuffer) { released++ })
	assert.Equal(t, 1, released)
	assert.Equal(t, uint64(0), cache.FreeMemory())
}

func TestEnforceBudgetEvictsFreePoolToRecoverHeadroom(t *testing.T) {
	alloc, _ := fakeAllocator()
	cache := NewStorageCache(alloc)

	held, err := cache.Get(1000)
	require.NoError(t, err)
	idle, err := cache.Get(1000)
	require.NoError(t, err)
	cache.Recycle(idle)

	// Budget jumps straight to any higher peak, so set it directly above
	// held's 1000 bytes but below total allocated (held + idle = 2000):
	// draining the idle buffer alone should bring usage back in budget.
	cache.UpdateMemoryBudget(1500, 7, 8)

	released := 0
	overBudget := cache.EnforceBudget(func(c *CachedBuffer) { released++ })
	assert.False(t, overBudget, "draining the idle buffer should be enough to clear the budget")
	assert.Equal(t, 1, released)
	assert.Equal(t, uint64(0), cache.FreeMemory())
	_ = held
}

func TestEnforceBudgetReportsCacheLimitWhenFreePoolCannotCoverIt(t *testing.T) {
	alloc, _ := fakeAllocator()
	cache := NewStorageCache(alloc)

	held, err := cache.Get(4096)
	require.NoError(t, err)
	_ = held

	cache.UpdateMemoryBudget(1024, 7, 8)

	overBudget := cache.EnforceBudget(func(c *CachedBuffer) {})
	assert.True(t, overBudget, "nothing idle to evict, so usage stays over budget")
}

func TestMemoryBudgetJumpsUpImmediately(t *testing.T) {
	alloc, _ := fakeAllocator()
	cache := NewStorageCache(alloc)

	cache.UpdateMemoryBudget(1000, 7, 8)
	assert.Equal(t, uint64(1000), cache.MaxMemoryAllowed())

	cache.UpdateMemoryBudget(5000, 7, 8)
	assert.Equal(t, uint64(5000), cache.MaxMemoryAllowed(), "budget must jump to a higher peak immediately")
}

func TestMemoryBudgetDecaysSlowlyDownward(t *testing.T) {
	alloc, _ := fakeAllocator()
	cache := NewStorageCache(alloc)

	cache.UpdateMemoryBudget(8000, 7, 8)
	require.Equal(t, uint64(8000), cache.MaxMemoryAllowed())

	cache.UpdateMemoryBudget(0, 7, 8)
	got := cache.MaxMemoryAllowed()
	assert.Equal(t, uint64(7000), got, "ewma(7/8) of 8000 decaying toward 0 should land at 7000")
	assert.Greater(t, got, uint64(0), "budget must not collapse to the new low peak in one step")

	// Repeated low observations monotonically recover toward the new low,
	// never overshoot back upward, and never go negative.
	prev := got
	for i := 0; i < 50; i++ {
		cache.UpdateMemoryBudget(0, 7, 8)
		cur := cache.MaxMemoryAllowed()
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}
