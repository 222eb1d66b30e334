package queue

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/oxy-gpu/tensorcore/bindgroup"
	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/meta"
)

// metaReservedTail is the slack the original reserves at the end of the
// shared meta buffer, beyond the last dispatch's own record, to keep the
// final dispatch's 256-byte dynamic-offset window from running past the
// buffer's end.
const metaReservedTail = 256 * 3

// prepare runs the two-pass memory simulation over the not-yet-flushed
// dispatch tail: pass one records, per logical buffer identity, the last
// queued dispatch index that touches it; pass two walks forward,
// charging a buffer's byte size against the running total the first
// time it is seen unbacked and crediting it back at its last use (unless
// something outside this queue still holds a reference to it). The peak
// of that running total, scaled by the configured headroom fraction,
// feeds StorageCache's EWMA budget tracker.
func (q *CommandQueue) prepare() {
	q.mu.Lock()
	pending := append([]*Dispatch(nil), q.dispatches[q.startIndex:]...)
	cfg := q.dev.Config()
	q.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	lastUse := make(map[uint64]int)
	touch := func(idx int, b *bufcache.BufferReference) {
		lastUse[b.ID()] = idx
	}
	for i, d := range pending {
		touch(i, d.Dest)
		for _, in := range d.Inputs {
			touch(i, in)
		}
	}

	backed := make(map[uint64]bool)
	var current, peak uint64
	account := func(b *bufcache.BufferReference) {
		if b.Storage() != nil || backed[b.ID()] {
			return
		}
		backed[b.ID()] = true
		current += b.ByteSize()
		if current > peak {
			peak = current
		}
	}
	release := func(idx int, b *bufcache.BufferReference) {
		if lastUse[b.ID()] != idx {
			return
		}
		if !backed[b.ID()] {
			return
		}
		// A buffer still held elsewhere (strong count > 1, i.e. more than
		// this queue's own bookkeeping references it) survives the batch;
		// only reclaim memory for buffers nothing outside the plan needs.
		if b.StrongCount() > 1 {
			return
		}
		current -= b.ByteSize()
		backed[b.ID()] = false
	}

	for i, d := range pending {
		account(d.Dest)
		for _, in := range d.Inputs {
			account(in)
		}
		release(i, d.Dest)
		for _, in := range d.Inputs {
			release(i, in)
		}
	}

	headNum, headDen := cfg.MemoryHeadroomNumerator, cfg.MemoryHeadroomDenominator
	if headDen == 0 {
		headDen = 4
	}
	if headNum == 0 {
		headNum = 5
	}
	peak = peak * headNum / headDen

	q.storage.UpdateMemoryBudget(peak, cfg.EWMADecayNumerator, cfg.EWMADecayDenominator)
}

// rawBuffer extracts the driver buffer handle backing a materialized
// CachedBuffer.
func rawBuffer(c *bufcache.CachedBuffer) *wgpu.Buffer {
	if c == nil {
		return nil
	}
	b, _ := c.Handle().(*wgpu.Buffer)
	return b
}

// applyInPlaceRewrite retargets d's pipeline to an in-place or fully
// elided variant when it is sound to do so: an input is eligible only
// when this dispatch is the last reference to it (StrongCount == 1) and
// it already carries concrete storage at least as large as what dest
// needs. This can only ever make a dispatch cheaper; a failed rewrite
// check always falls through to the safe, non-aliasing pipeline.
func applyInPlaceRewrite(d *Dispatch) {
	switch d.Pipeline.Type {
	case gpudevice.UnaryFromBufferContiguous:
		if len(d.Inputs) != 1 {
			return
		}
		v1 := d.Inputs[0]
		if v1.Storage() != nil && v1.StrongCount() == 1 && d.Dest.Storage() == nil && d.Dest.ByteSize() <= v1.ByteSize() {
			d.Pipeline.Type = gpudevice.UnaryInplaceContiguous
			d.Dest.SetStorage(v1.Storage())
		}

	case gpudevice.BinaryBufferFromBufferContiguousBoth:
		if len(d.Inputs) != 2 {
			return
		}
		in1, in2 := d.Inputs[0], d.Inputs[1]
		switch {
		case in1.Storage() != nil && in1.StrongCount() == 1 && d.Dest.Storage() == nil && d.Dest.ByteSize() <= in1.ByteSize():
			d.Pipeline.Type = gpudevice.BinaryInplace1ContiguousBoth
			d.Dest.SetStorage(in1.Storage())
		case in2.Storage() != nil && in2.StrongCount() == 1 && d.Dest.Storage() == nil && d.Dest.ByteSize() <= in2.ByteSize():
			d.Pipeline.Type = gpudevice.BinaryInplace2ContiguousBoth
			d.Dest.SetStorage(in2.Storage())
		}

	case gpudevice.Copy:
		if len(d.Inputs) != 1 {
			return
		}
		in := d.Inputs[0]
		if in.Storage() != nil && in.StrongCount() == 1 && d.Dest.Storage() == nil && d.Dest.ByteSize() <= in.ByteSize() {
			d.Pipeline.Type = gpudevice.CopyInplace
			d.Dest.SetStorage(in.Storage())
			d.elided = true
		}
	}
}

// materialize ensures d.Dest carries concrete storage, allocating a
// fresh CachedBuffer from the queue's StorageCache if the in-place
// rewrite above did not already transfer one.
func (q *CommandQueue) materialize(d *Dispatch) error {
	if d.Dest.Storage() != nil {
		return nil
	}
	c, err := q.storage.Get(d.Dest.ByteSize())
	if err != nil {
		return fmt.Errorf("queue: materializing dest buffer: %w", err)
	}
	d.Dest.SetStorage(c)
	return nil
}

// releaseConsumedInputs drops this dispatch's one logical hold on each of
// its inputs, now that applyInPlaceRewrite has already decided whether to
// alias any of them into dest. An input whose strong count reaches zero
// here has no holder left anywhere in the program — its storage, if it
// carries any and wasn't just aliased into dest by the rewrite above,
// goes back to the free pool for Get to hand out again.
func (q *CommandQueue) releaseConsumedInputs(d *Dispatch) {
	for _, in := range d.Inputs {
		if in.Release() != 0 {
			continue
		}
		storage := in.Storage()
		if storage == nil || storage == d.Dest.Storage() {
			continue
		}
		q.storage.Recycle(storage)
	}
}

// batch is the result of one set_buffers planning pass: the dispatches
// that will be included in the next command buffer, and the packed meta
// bytes to upload before recording it.
type batch struct {
	dispatches []*Dispatch
	metaBytes  []byte
}

// setBuffers walks the not-yet-flushed dispatch tail, applying in-place
// rewrites, materializing storage, packing each dispatch's meta record
// into the shared buffer at an aligned offset, and stopping the batch
// once either the configured workload budget or the meta buffer's
// capacity would be exceeded. It always includes at least one dispatch
// (an over-budget single dispatch still must make progress) so the
// planner can never stall forever on a batch boundary.
func (q *CommandQueue) setBuffers() (*batch, error) {
	q.mu.Lock()
	pending := q.dispatches[q.startIndex:]
	cfg := q.dev.Config()
	q.mu.Unlock()

	if len(pending) == 0 {
		return &batch{}, nil
	}

	alignWords := q.dev.MinStorageBufferOffsetAlignment() / 4
	if alignWords == 0 {
		alignWords = 1
	}

	var metaWords []uint32
	var included []*Dispatch
	var totalWorkload uint64

	for _, d := range pending {
		w := d.WorkloadSize()
		if len(included) > 0 && totalWorkload+w > cfg.MaxWorkloadSize {
			break
		}

		applyInPlaceRewrite(d)
		q.releaseConsumedInputs(d)

		if d.elided {
			included = append(included, d)
			totalWorkload += w
			continue
		}

		offset := meta.NextDivisibleByN(uint32(len(metaWords)), alignWords)
		need := offset + uint32(d.Meta.Len())
		if uint64(need)*4+metaReservedTail > uint64(cfg.MetaBufferSize) {
			if len(included) == 0 {
				panicInvariant("single dispatch's meta record (%d words) exceeds meta buffer capacity %d", d.Meta.Len(), cfg.MetaBufferSize)
			}
			break
		}

		if err := q.materialize(d); err != nil {
			return nil, err
		}

		destGroup, err := q.bindGroup(d)
		if err != nil {
			return nil, err
		}
		d.boundBindGroup = destGroup

		for uint32(len(metaWords)) < offset {
			metaWords = append(metaWords, 0)
		}
		d.metaOffset = offset
		metaWords = append(metaWords, d.Meta.Words()...)

		included = append(included, d)
		totalWorkload += w

		// Cache watermark: binding may have pushed total allocated storage
		// past the tracked budget. Try to win the memory back by draining
		// idle free-pool buffers; if it's still over after that, the
		// budget is genuinely exhausted (cache_limit) and this batch stops
		// here, after including the dispatch that tripped it.
		if q.storage.EnforceBudget(func(c *bufcache.CachedBuffer) {
			if buf := rawBuffer(c); buf != nil {
				buf.Release()
			}
		}) {
			break
		}
	}

	q.mu.Lock()
	q.startIndex += len(included)
	q.mu.Unlock()

	return &batch{dispatches: included, metaBytes: wordsToBytes(metaWords)}, nil
}

// bindGroup resolves (creating if necessary, via the bind-group cache)
// the concrete bind group for d's now-materialized buffers.
func (q *CommandQueue) bindGroup(d *Dispatch) (*boundGroup, error) {
	arity := d.Pipeline.Type.Arity()
	inputStorage := make([]*bufcache.CachedBuffer, 0, len(d.Inputs))
	for _, in := range d.Inputs {
		inputStorage = append(inputStorage, in.Storage())
	}
	ref := bindgroup.Materialized(arity, d.Dest.Storage(), inputStorage...)
	key := ref.Key()

	cached, err := q.bindGroups.GetOrCreate(key, func() (*wgpu.BindGroup, error) {
		inputs := make([]*wgpu.Buffer, 0, len(inputStorage))
		for _, s := range inputStorage {
			inputs = append(inputs, rawBuffer(s))
		}
		return q.dev.CreateBindGroup(arity, q.metaBufferHandle(), rawBuffer(d.Dest.Storage()), inputs)
	})
	if err != nil {
		return nil, err
	}
	return &boundGroup{arity: arity, key: key, group: cached.Group()}, nil
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4+0] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}
