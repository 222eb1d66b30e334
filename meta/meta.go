// Package meta packs per-dispatch scalar parameters — shapes, strides,
// offsets, op constants — into the single shared meta buffer that binding
// slot 1 of every compute pipeline reads from at a 256-byte dynamic
// offset window, and into the handful of pipeline-overridable constants
// baked into a pipeline's specialization key.
package meta

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/oxy-gpu/tensorcore/layout"
)

// MaxConstEntries bounds the number of (constant-id, value) pairs a single
// pipeline specialization may carry; it is the width of PipelineKey's
// embedded constant table.
const MaxConstEntries = 32

// MetaArray accumulates u32 words for one dispatch's metadata record. It
// is produced fresh per queued operation and handed to the planner, which
// concatenates consecutive arrays (at alignment boundaries) into the
// shared meta buffer before a flush.
type MetaArray struct {
	words []uint32
}

// NewMetaArray returns an empty accumulator.
func NewMetaArray() *MetaArray {
	return &MetaArray{}
}

// Add appends a single u32 word.
func (m *MetaArray) Add(v uint32) *MetaArray {
	m.words = append(m.words, v)
	return m
}

// AddInt appends v reinterpreted as u32; callers only ever pass
// non-negative shape/stride/offset values here.
func (m *MetaArray) AddInt(v int) *MetaArray {
	return m.Add(uint32(v))
}

// AddF32 appends the bit pattern of a float32 parameter (e.g. an epsilon
// or scale), matching the original's bytemuck cast of f32 meta fields.
func (m *MetaArray) AddF32(v float32) *MetaArray {
	return m.Add(math32.Float32bits(v))
}

// AddLayout appends a layout's rank, then its dims, then its strides,
// then its start offset, in that fixed field order — the order every op
// encoder's WGSL counterpart expects a Layout's meta record to arrive in.
func (m *MetaArray) AddLayout(l layout.Layout) *MetaArray {
	m.Add(uint32(l.Rank()))
	for _, d := range l.Dims() {
		m.Add(d)
	}
	for _, s := range l.Stride() {
		m.Add(s)
	}
	m.Add(l.StartOffset())
	return m
}

// Len returns the number of words accumulated so far.
func (m *MetaArray) Len() int { return len(m.words) }

// Words returns the accumulated words. The slice is owned by m; callers
// must not mutate it.
func (m *MetaArray) Words() []uint32 { return m.words }

// ConstEntry is one (pipeline-override constant id, value) pair baked
// into a specialized pipeline at compile time rather than read from the
// meta buffer at dispatch time — used for loop bounds and kernel sizes
// that the shader compiler can fold constants around.
type ConstEntry struct {
	ID    uint32
	Value uint32
}

// ConstArray is a small fixed-capacity set of specialization constants.
// Its contents, in insertion order, form part of a pipeline's identity —
// see PipelineKey.
type ConstArray struct {
	entries []ConstEntry
}

// NewConstArray returns an empty constant set.
func NewConstArray() *ConstArray {
	return &ConstArray{}
}

// Add appends a (id, value) pair. Add panics if more than MaxConstEntries
// pairs are added — this is a PipelineType authoring bug, not a runtime
// condition, matching the original's const-generic array bound.
func (c *ConstArray) Add(id, value uint32) *ConstArray {
	if len(c.entries) >= MaxConstEntries {
		panic(fmt.Sprintf("meta: ConstArray exceeded %d entries", MaxConstEntries))
	}
	c.entries = append(c.entries, ConstEntry{ID: id, Value: value})
	return c
}

// Entries returns the accumulated (id, value) pairs in insertion order.
func (c *ConstArray) Entries() []ConstEntry { return c.entries }

// Key renders a stable string identity for these constants, suitable for
// embedding in a PipelineKey cache key.
func (c *ConstArray) Key() string {
	s := ""
	for _, e := range c.entries {
		s += fmt.Sprintf("%d=%d;", e.ID, e.Value)
	}
	return s
}

// NextDivisibleByN rounds length up to the next multiple of n (n > 0),
// matching the original's next_divisible_by_n helper used to align each
// queued MetaArray's start offset within the shared meta buffer to the
// device's minimum storage-buffer offset alignment.
func NextDivisibleByN(length, n uint32) uint32 {
	if n == 0 {
		return length
	}
	if length%n == 0 {
		return length
	}
	return length + (n - length%n)
}
