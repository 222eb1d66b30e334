package bufcache

import (
	"sync"

	"github.com/oxy-gpu/tensorcore/dtype"
	"github.com/oxy-gpu/tensorcore/layout"
)

// CachedBuffer is the concrete GPU-side storage a BufferReference may be
// bound to once the planner materializes it. It is pooled by StorageCache
// and recycled across flushes once nothing references it.
type CachedBuffer struct {
	mu sync.Mutex

	id      uint64
	size    uint64 // byte size of the underlying wgpu.Buffer
	handle  any    // *wgpu.Buffer in production; left untyped so this
	                // package has no hard dependency on a live device for
	                // unit tests (see storage_test.go's fake allocator).
	inUse   bool
}

// NewCachedBuffer wraps a freshly allocated driver buffer (a *wgpu.Buffer
// in production, a fake in tests) for StorageCache.Get's Allocator to
// return; id and size are filled in by the cache itself.
func NewCachedBuffer(handle any) *CachedBuffer {
	return &CachedBuffer{handle: handle}
}

// ID returns the cache's internal identity for this allocation.
func (c *CachedBuffer) ID() uint64 { return c.id }

// Size returns the allocation's byte size.
func (c *CachedBuffer) Size() uint64 { return c.size }

// Handle returns the backing driver object (a *wgpu.Buffer in production).
func (c *CachedBuffer) Handle() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// BufferReference is the logical, shape-typed handle every op encoder
// takes and returns. Multiple call sites may hold independent
// BufferReference values that share the same identity and liveness
// counter — see Clone — so the planner can tell whether a given logical
// tensor has exactly one live holder (itself eligible for an in-place
// rewrite) or more than one (must preserve its current contents).
type BufferReference struct {
	refs *refCounter

	id     uint64
	dtype  dtype.DType
	layout layout.Layout

	mu      sync.Mutex
	storage *CachedBuffer // nil until the planner assigns concrete storage
}

// New creates a fresh, unbacked BufferReference describing a tensor of
// the given dtype and layout. Its strong count starts at one.
func New(id uint64, dt dtype.DType, l layout.Layout) *BufferReference {
	return &BufferReference{
		refs:   newRefCounter(),
		id:     id,
		dtype:  dt,
		layout: l,
	}
}

// Clone returns a new BufferReference value that shares this one's
// identity, dtype, layout, storage, and liveness counter, and bumps the
// strong count by one — the Go analogue of cloning an Arc<BufferReference>.
func (b *BufferReference) Clone() *BufferReference {
	b.refs.retain()
	return &BufferReference{
		refs:    b.refs,
		id:      b.id,
		dtype:   b.dtype,
		layout:  b.layout,
		storage: b.Storage(),
	}
}

// Release drops this holder's strong reference. Callers that no longer
// need a BufferReference after handing its clone(s) elsewhere should call
// this so StrongCount reflects reality; forgetting to call it only ever
// makes the planner more conservative (it just stops seeing a buffer as
// uniquely held), never unsound.
func (b *BufferReference) Release() int32 {
	return b.refs.release()
}

// StrongCount reports how many live BufferReference holders share this
// identity right now. The in-place/copy-elision rewrite rules in the
// flush planner only fire when this is exactly one.
func (b *BufferReference) StrongCount() int32 {
	return b.refs.load()
}

// ID returns the logical buffer's identity, stable across Clone.
func (b *BufferReference) ID() uint64 { return b.id }

// DType returns the element type.
func (b *BufferReference) DType() dtype.DType { return b.dtype }

// Layout returns the logical shape/stride/offset view.
func (b *BufferReference) Layout() layout.Layout { return b.layout }

// Storage returns the concrete backing allocation, or nil if this
// reference has not yet been materialized by the planner.
func (b *BufferReference) Storage() *CachedBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.storage
}

// SetStorage assigns (or reassigns, in the in-place-rewrite case) the
// concrete backing allocation.
func (b *BufferReference) SetStorage(c *CachedBuffer) {
	b.mu.Lock()
	b.storage = c
	b.mu.Unlock()
}

// ByteSize returns the number of bytes this reference's layout requires.
func (b *BufferReference) ByteSize() uint64 {
	return uint64(b.layout.ElemCount()) * b.dtype.Size()
}
