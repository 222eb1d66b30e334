// Package bufcache implements the deferred buffer-reference indirection
// and GPU storage cache described by the dispatch planner: a
// BufferReference is a logical tensor-shaped handle that may or may not
// have a concrete CachedBuffer backing it yet, and a StorageCache pools
// and recycles the concrete GPU-side allocations under a moving memory
// budget.
package bufcache

import "sync/atomic"

// refCounter is the shared liveness signal behind a BufferReference,
// standing in for Rust's Arc::strong_count: every BufferReference a
// caller still holds a clone of keeps this above one, and the planner's
// in-place/copy-elision rewrite rules only fire when it reads back to
// exactly one.
type refCounter struct {
	n int32
}

func newRefCounter() *refCounter {
	return &refCounter{n: 1}
}

func (r *refCounter) retain() {
	atomic.AddInt32(&r.n, 1)
}

func (r *refCounter) release() int32 {
	return atomic.AddInt32(&r.n, -1)
}

func (r *refCounter) load() int32 {
	return atomic.LoadInt32(&r.n)
}
