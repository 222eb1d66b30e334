package bufcache

import (
	"fmt"
	"sort"
	"sync"
)

// Allocator creates a new concrete GPU allocation of the given byte size.
// Production wiring plugs in a closure over wgpu.Device.CreateBuffer
// (storage|copy_src|copy_dst usage); tests plug in an in-memory fake.
type Allocator func(size uint64) (*CachedBuffer, error)

// StorageCache pools CachedBuffer allocations by size class and tracks a
// moving memory budget (max_memory_allowed) that the flush planner
// compares its two-pass memory simulation against. It recovers the
// budget upward whenever a flush's actual peak usage exceeds the
// current estimate, and otherwise decays it slowly downward — so a
// transient high-water mark never permanently inflates the ceiling, but
// a sustained increase in working-set size is tracked within a few
// flushes. See Testable Properties: memory-budget monotonic recovery.
type StorageCache struct {
	mu sync.Mutex

	alloc Allocator

	free map[uint64][]*CachedBuffer // size -> free allocations of that exact size
	used map[uint64]*CachedBuffer

	nextID uint64

	usedMemory       uint64
	maxMemoryAllowed uint64
}

// NewStorageCache creates an empty cache backed by alloc.
func NewStorageCache(alloc Allocator) *StorageCache {
	return &StorageCache{
		alloc: alloc,
		free:  make(map[uint64][]*CachedBuffer),
		used:  make(map[uint64]*CachedBuffer),
	}
}

// MaxMemoryAllowed returns the current tracked budget ceiling.
func (s *StorageCache) MaxMemoryAllowed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxMemoryAllowed
}

// UsedMemory returns the byte total of allocations currently checked out.
func (s *StorageCache) UsedMemory() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedMemory
}

// FreeMemory returns the byte total sitting idle in the free pool,
// available for reuse without a new driver allocation.
func (s *StorageCache) FreeMemory() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for size, bufs := range s.free {
		total += size * uint64(len(bufs))
	}
	return total
}

// Get returns a CachedBuffer of exactly size bytes, reusing an idle
// allocation from the free pool when one of that exact size is
// available, and allocating a fresh one from the driver otherwise.
func (s *StorageCache) Get(size uint64) (*CachedBuffer, error) {
	s.mu.Lock()
	if bucket := s.free[size]; len(bucket) > 0 {
		c := bucket[len(bucket)-1]
		s.free[size] = bucket[:len(bucket)-1]
		c.inUse = true
		s.used[c.id] = c
		s.usedMemory += c.size
		s.mu.Unlock()
		return c, nil
	}
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	c, err := s.alloc(size)
	if err != nil {
		return nil, fmt.Errorf("bufcache: allocating %d bytes: %w", size, err)
	}
	c.id = id
	c.size = size
	c.inUse = true

	s.mu.Lock()
	s.used[c.id] = c
	s.usedMemory += c.size
	s.mu.Unlock()
	return c, nil
}

// Recycle returns c to the free pool for reuse by a future Get of the
// same size, called once nothing references its owning BufferReference
// any more.
func (s *StorageCache) Recycle(c *CachedBuffer) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.inUse {
		return
	}
	c.inUse = false
	delete(s.used, c.id)
	s.usedMemory -= c.size
	s.free[c.size] = append(s.free[c.size], c)
}

// EnforceBudget compares total allocated driver memory (checked-out
// allocations plus whatever idle ones are still sitting in the free pool)
// against the tracked max_memory_allowed ceiling and, if it is exceeded,
// drains the free pool (releasing driver resources via release, same as
// RemoveUnused) to try to win the memory back. It reports whether usage
// is still over budget once the free pool has been drained as far as it
// can go — the cache_limit condition a caller (set_buffers) uses to stop
// batching further dispatches after the one that tripped it.
func (s *StorageCache) EnforceBudget(release func(*CachedBuffer)) bool {
	s.mu.Lock()
	var freeTotal uint64
	for size, bufs := range s.free {
		freeTotal += size * uint64(len(bufs))
	}
	over := s.maxMemoryAllowed > 0 && s.usedMemory+freeTotal > s.maxMemoryAllowed
	s.mu.Unlock()
	if !over {
		return false
	}

	s.RemoveUnused(release)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedMemory > s.maxMemoryAllowed
}

// RemoveUnused drops every idle allocation from the free pool, releasing
// the driver resources behind them via release. It is called at the tail
// of a flush loop (cache.buffers.remove_unused() in the original),
// trading driver memory back for headroom once a batch completes.
func (s *StorageCache) RemoveUnused(release func(*CachedBuffer)) {
	s.mu.Lock()
	sizes := make([]uint64, 0, len(s.free))
	for size := range s.free {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	drained := make([]*CachedBuffer, 0)
	for _, size := range sizes {
		drained = append(drained, s.free[size]...)
		delete(s.free, size)
	}
	s.mu.Unlock()

	if release != nil {
		for _, c := range drained {
			release(c)
		}
	}
}

// UpdateMemoryBudget folds a newly observed peak working-set estimate
// (already scaled by the planner's headroom fraction) into the running
// max_memory_allowed ceiling: the ceiling jumps immediately to any higher
// peak, but only decays toward a lower one via an exponentially weighted
// moving average (decayNum/decayDen, e.g. 7/8) — so the budget recovers
// the instant more memory is genuinely needed, and only slowly gives
// back headroom once usage drops.
func (s *StorageCache) UpdateMemoryBudget(peak uint64, decayNum, decayDen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if decayDen == 0 {
		decayDen = 8
	}
	if decayNum == 0 || decayNum > decayDen {
		decayNum = 7
	}
	if peak > s.maxMemoryAllowed {
		s.maxMemoryAllowed = peak
		return
	}
	s.maxMemoryAllowed = (decayNum*s.maxMemoryAllowed)/decayDen + (peak*(decayDen-decayNum))/decayDen
}
