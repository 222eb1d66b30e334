package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/dtype"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/layout"
	"github.com/oxy-gpu/tensorcore/queue"
)

// fakeShaderProvider hands back an empty ShaderSource for any key,
// letting the encoders under test run without a real kernel table.
type fakeShaderProvider struct{}

func (fakeShaderProvider) Source(key gpudevice.PipelineKey) (gpudevice.ShaderSource, error) {
	return gpudevice.ShaderSource{Label: key.String(), EntryPoint: "main"}, nil
}

func newTestContext() *Context {
	return &Context{Queue: &queue.CommandQueue{}, Shaders: fakeShaderProvider{}}
}

func fakeInput(dt dtype.DType, l layout.Layout) *bufcache.BufferReference {
	return bufcache.New(1, dt, l)
}

func TestQueueUnaryContiguousInputEnqueuesOneDispatch(t *testing.T) {
	c := newTestContext()
	in := fakeInput(dtype.F32, layout.Contiguous([]uint32{4, 16}))

	dest, err := c.QueueUnary(UnaryRelu, in, layout.Contiguous([]uint32{4, 16}))
	require.NoError(t, err)
	assert.NotNil(t, dest)
	assert.Equal(t, 1, c.Queue.Pending())
}

func TestQueueUnaryMultiWorkgroupInputEncodes(t *testing.T) {
	c := newTestContext()
	l := layout.Contiguous([]uint32{64 * 2})
	in := fakeInput(dtype.F32, l)

	_, err := c.QueueUnary(UnarySqrt, in, l)
	require.NoError(t, err)
}

func TestQueueBinaryMixedStridedInputsKeepLhsDims(t *testing.T) {
	c := newTestContext()
	contig := layout.Contiguous([]uint32{2, 8})
	strided := layout.WithStrides([]uint32{2, 8}, []uint32{8, 2}, 0)

	lhs := fakeInput(dtype.F32, contig)
	rhs := fakeInput(dtype.F32, strided)

	dest, err := c.QueueBinary(BinaryAdd, lhs, contig, rhs, strided)
	require.NoError(t, err)
	assert.Equal(t, contig.Dims(), dest.Layout().Dims())
}

func TestQueueCopyPreservesDestLayout(t *testing.T) {
	c := newTestContext()
	src := layout.Contiguous([]uint32{3, 3})
	dstLayout := layout.WithStrides([]uint32{3, 3}, []uint32{1, 3}, 0)
	in := fakeInput(dtype.F32, src)

	dest, err := c.QueueCopy(in, src, dstLayout)
	require.NoError(t, err)
	assert.Equal(t, dstLayout.Stride(), dest.Layout().Stride())
}

func TestQueueConvertElementVariantsAllocateDestWithRequestedDType(t *testing.T) {
	c := newTestContext()
	l := layout.Contiguous([]uint32{10})
	in := fakeInput(dtype.U32, l)

	dest, err := c.QueueConvertU32ToF32(in, l)
	require.NoError(t, err)
	assert.Equal(t, dtype.F32, dest.DType())

	in8 := fakeInput(dtype.U8, l)
	dest8, err := c.QueueConvertU8ToF32(in8, l)
	require.NoError(t, err)
	assert.Equal(t, dtype.F32, dest8.DType())

	destU32, err := c.QueueConvertF32ToU32(in, l)
	require.NoError(t, err)
	assert.Equal(t, dtype.U32, destU32.DType())
}

func TestQueueConvertByteVariantsSizeDestToRequestedByteRange(t *testing.T) {
	c := newTestContext()
	l := layout.Contiguous([]uint32{16})
	in := fakeInput(dtype.U32, l)

	dest, err := c.QueueConvertU32ToU8(in, 0, 40)
	require.NoError(t, err)
	assert.Equal(t, dtype.U8, dest.DType())
	assert.Equal(t, uint32(40), dest.Layout().ElemCount())
}

func TestQueueMatmulDestShapeIsBatchByMByN(t *testing.T) {
	c := newTestContext()
	lhsLayout := layout.Contiguous([]uint32{1, 32, 17})
	rhsLayout := layout.Contiguous([]uint32{1, 17, 33})
	lhs := fakeInput(dtype.F32, lhsLayout)
	rhs := fakeInput(dtype.F32, rhsLayout)

	p := MatmulParams{Batch: 1, M: 32, N: 33, K: 17}
	dest, err := c.QueueMatmul(lhs, lhsLayout, rhs, rhsLayout, p)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 32, 33}, dest.Layout().Dims())
}

func TestQueueReduceDropsReducedDimension(t *testing.T) {
	c := newTestContext()
	l := layout.Contiguous([]uint32{4, 8})
	in := fakeInput(dtype.F32, l)

	dest, err := c.QueueReduce(ReduceSum, in, l)
	require.NoError(t, err)
	assert.Equal(t, []uint32{4}, dest.Layout().Dims())
}

func TestQueueReduceOverFullyFlatInputYieldsScalar(t *testing.T) {
	c := newTestContext()
	l := layout.Contiguous([]uint32{9})
	in := fakeInput(dtype.F32, l)

	dest, err := c.QueueReduce(ReduceMax, in, l)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, dest.Layout().Dims())
}
