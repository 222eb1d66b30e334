// Package bindgroup implements the deferred bind-group reference and its
// materialized, cached counterpart: a Dispatch's bindings start out as a
// description of which concrete buffers (or "none", for an elided copy)
// it needs, and only become a real *wgpu.BindGroup once set_buffers
// proves the dispatch will actually execute.
package bindgroup

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
)

// Kind distinguishes the three shapes a Dispatch's bindings can take
// once the planner has decided how it will execute.
type Kind uint8

const (
	// KindNone means the dispatch was elided entirely (a full
	// copy-elision rewrite transferring storage ownership) — no bind
	// group, no pipeline invocation.
	KindNone Kind = iota
	// KindPending means bindings are known logically (by
	// BufferReference) but storage has not yet been materialized.
	KindPending
	// KindMaterialized means every binding has concrete CachedBuffer
	// storage and the bind group itself may be created or fetched from
	// cache.
	KindMaterialized
)

// Reference is a dispatch's bind-group-in-progress: which arity it
// needs, and, for KindMaterialized, the concrete buffers it binds. Dest
// and Inputs hold only CachedBuffers; a Reference never carries
// BufferReferences.
type Reference struct {
	Kind  Kind
	Arity gpudevice.BindGroupArity

	Dest   *bufcache.CachedBuffer
	Inputs []*bufcache.CachedBuffer
}

// None returns an elided bind-group reference.
func None() Reference {
	return Reference{Kind: KindNone}
}

// Materialized returns a reference ready to be turned into a concrete
// *wgpu.BindGroup.
func Materialized(arity gpudevice.BindGroupArity, dest *bufcache.CachedBuffer, inputs ...*bufcache.CachedBuffer) Reference {
	return Reference{Kind: KindMaterialized, Arity: arity, Dest: dest, Inputs: inputs}
}

// Key renders a stable identity for the concrete buffers this reference
// binds, used as the bind-group cache key: two dispatches that bind the
// exact same concrete buffers at the same arity can share one
// *wgpu.BindGroup.
func (r Reference) Key() string {
	if r.Kind != KindMaterialized {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d", r.Arity, r.Dest.ID())
	for _, in := range r.Inputs {
		fmt.Fprintf(&b, "|%d", in.ID())
	}
	return b.String()
}

// Cached is a materialized, driver-backed bind group kept alive in a
// Cache until a RemoveUnused sweep finds it untouched since the last
// MarkIdle.
type Cached struct {
	key   string
	group *wgpu.BindGroup
	inUse bool
}

// Group returns the concrete driver bind group.
func (c *Cached) Group() *wgpu.BindGroup { return c.group }

// Cache pools materialized bind groups by their buffer-identity key so a
// repeated dispatch against the same concrete buffers (e.g. an in-place
// loop) does not recreate a *wgpu.BindGroup every flush.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Cached
}

// NewCache returns an empty bind-group cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Cached)}
}

// GetOrCreate returns the cached bind group for key, creating it via
// build on first use.
func (c *Cache) GetOrCreate(key string, build func() (*wgpu.BindGroup, error)) (*Cached, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.inUse = true
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	g, err := build()
	if err != nil {
		return nil, fmt.Errorf("bindgroup: creating bind group %q: %w", key, err)
	}

	e := &Cached{key: key, group: g, inUse: true}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e, nil
}

// MarkIdle flags every currently cached entry as not-in-use; callers
// re-mark entries touched during the next flush via GetOrCreate, so
// RemoveUnused can evict whatever nobody touched this round.
func (c *Cache) MarkIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.inUse = false
	}
}

// RemoveUnused evicts and releases every entry not marked in-use since
// the last MarkIdle, matching the original's bind-group cache watermark
// sweep at the tail of a flush loop.
func (c *Cache) RemoveUnused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !e.inUse {
			e.group.Release()
			delete(c.entries, k)
		}
	}
}

// Len reports how many bind groups are currently cached, for stats.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
