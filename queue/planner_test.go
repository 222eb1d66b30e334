package queue

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/dtype"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/layout"
)

// fakeCachedBuffer returns a sized storage handle without touching a
// real device; CachedBuffer's fields are unexported, so the only way to
// produce one outside bufcache is through the same pool production code
// uses.
func fakeCachedBuffer(size uint64) *bufcache.CachedBuffer {
	pool := bufcache.NewStorageCache(func(sz uint64) (*bufcache.CachedBuffer, error) {
		return &bufcache.CachedBuffer{}, nil
	})
	got, _ := pool.Get(size)
	return got
}

func TestApplyInPlaceRewriteUnarySoleOwner(t *testing.T) {
	l := layout.Contiguous([]uint32{4})
	input := bufcache.New(1, dtype.F32, l)
	input.SetStorage(fakeCachedBuffer(input.ByteSize()))

	dest := bufcache.New(2, dtype.F32, l)

	d := &Dispatch{
		Pipeline: gpudevice.PipelineKey{Type: gpudevice.UnaryFromBufferContiguous},
		Dest:     dest,
		Inputs:   []*bufcache.BufferReference{input},
	}

	applyInPlaceRewrite(d)

	assert.Equal(t, gpudevice.UnaryInplaceContiguous, d.Pipeline.Type)
	assert.Same(t, input.Storage(), dest.Storage())
}

func TestApplyInPlaceRewriteDeclinedWhenSharedOwnership(t *testing.T) {
	l := layout.Contiguous([]uint32{4})
	input := bufcache.New(1, dtype.F32, l)
	input.SetStorage(fakeCachedBuffer(input.ByteSize()))
	shared := input.Clone() // bumps strong count to 2
	defer shared.Release()

	dest := bufcache.New(2, dtype.F32, l)

	d := &Dispatch{
		Pipeline: gpudevice.PipelineKey{Type: gpudevice.UnaryFromBufferContiguous},
		Dest:     dest,
		Inputs:   []*bufcache.BufferReference{input},
	}

	applyInPlaceRewrite(d)

	assert.Equal(t, gpudevice.UnaryFromBufferContiguous, d.Pipeline.Type, "must not rewrite while another holder is live")
	assert.Nil(t, dest.Storage())
}

func TestApplyInPlaceRewriteDeclinedWhenDestLarger(t *testing.T) {
	small := layout.Contiguous([]uint32{4})
	big := layout.Contiguous([]uint32{64})

	input := bufcache.New(1, dtype.F32, small)
	input.SetStorage(fakeCachedBuffer(input.ByteSize()))

	dest := bufcache.New(2, dtype.F32, big)

	d := &Dispatch{
		Pipeline: gpudevice.PipelineKey{Type: gpudevice.UnaryFromBufferContiguous},
		Dest:     dest,
		Inputs:   []*bufcache.BufferReference{input},
	}

	applyInPlaceRewrite(d)

	assert.Equal(t, gpudevice.UnaryFromBufferContiguous, d.Pipeline.Type)
}

func TestApplyInPlaceRewriteCopyElision(t *testing.T) {
	l := layout.Contiguous([]uint32{4})
	input := bufcache.New(1, dtype.F32, l)
	input.SetStorage(fakeCachedBuffer(input.ByteSize()))

	dest := bufcache.New(2, dtype.F32, l)

	d := &Dispatch{
		Pipeline: gpudevice.PipelineKey{Type: gpudevice.Copy},
		Dest:     dest,
		Inputs:   []*bufcache.BufferReference{input},
	}

	applyInPlaceRewrite(d)

	assert.Equal(t, gpudevice.CopyInplace, d.Pipeline.Type)
	assert.True(t, d.elided)
	assert.Same(t, input.Storage(), dest.Storage())
}

func TestReleaseConsumedInputsRecyclesSoleHolderStorage(t *testing.T) {
	pool := bufcache.NewStorageCache(func(sz uint64) (*bufcache.CachedBuffer, error) {
		return &bufcache.CachedBuffer{}, nil
	})

	l := layout.Contiguous([]uint32{4})
	input := bufcache.New(1, dtype.F32, l)
	storage, err := pool.Get(input.ByteSize())
	assert.NoError(t, err)
	input.SetStorage(storage)

	dest := bufcache.New(2, dtype.F32, l) // unmaterialized: not aliased to input's storage

	q := &CommandQueue{storage: pool}
	d := &Dispatch{Dest: dest, Inputs: []*bufcache.BufferReference{input}}

	q.releaseConsumedInputs(d)

	assert.Equal(t, int32(0), input.StrongCount())
	assert.Equal(t, uint64(0), pool.UsedMemory(), "the sole-holder input's storage should have gone back to the free pool")
}

func TestReleaseConsumedInputsLeavesSharedHolderStorageAlone(t *testing.T) {
	pool := bufcache.NewStorageCache(func(sz uint64) (*bufcache.CachedBuffer, error) {
		return &bufcache.CachedBuffer{}, nil
	})

	l := layout.Contiguous([]uint32{4})
	input := bufcache.New(1, dtype.F32, l)
	storage, err := pool.Get(input.ByteSize())
	assert.NoError(t, err)
	input.SetStorage(storage)
	shared := input.Clone()
	defer shared.Release()

	dest := bufcache.New(2, dtype.F32, l)

	q := &CommandQueue{storage: pool}
	d := &Dispatch{Dest: dest, Inputs: []*bufcache.BufferReference{input}}

	q.releaseConsumedInputs(d)

	assert.Equal(t, int32(1), input.StrongCount())
	assert.Equal(t, storage.Size(), pool.UsedMemory(), "a still-shared input's storage must stay checked out")
}

func TestReleaseConsumedInputsSkipsStorageAliasedIntoDest(t *testing.T) {
	pool := bufcache.NewStorageCache(func(sz uint64) (*bufcache.CachedBuffer, error) {
		return &bufcache.CachedBuffer{}, nil
	})

	l := layout.Contiguous([]uint32{4})
	input := bufcache.New(1, dtype.F32, l)
	storage, err := pool.Get(input.ByteSize())
	assert.NoError(t, err)
	input.SetStorage(storage)

	dest := bufcache.New(2, dtype.F32, l)
	dest.SetStorage(storage) // simulates applyInPlaceRewrite's aliasing

	q := &CommandQueue{storage: pool}
	d := &Dispatch{Dest: dest, Inputs: []*bufcache.BufferReference{input}}

	q.releaseConsumedInputs(d)

	assert.Equal(t, int32(0), input.StrongCount())
	assert.Equal(t, storage.Size(), pool.UsedMemory(), "storage aliased into dest must not be recycled out from under it")
}

func TestWordsToBytesRoundTrip(t *testing.T) {
	words := []uint32{1, 0xdeadbeef, 0}
	b := wordsToBytes(words)
	assert.Len(t, b, 12)
	assert.Equal(t, byte(1), b[0])
	for i, w := range words {
		assert.Equal(t, w, binary.LittleEndian.Uint32(b[i*4:]))
	}
}
