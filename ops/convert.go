package ops

import (
	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/dtype"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/layout"
	"github.com/oxy-gpu/tensorcore/meta"
	"github.com/oxy-gpu/tensorcore/queue"
)

// queueElementConvert is the shared shape behind QueueConvertU32ToF32,
// QueueConvertU8ToF32, and QueueConvertF32ToU32: a one-for-one,
// same-element-count reinterpretation dispatched at inputLayout's
// element count, with inputLayout itself as the only meta record.
func (c *Context) queueElementConvert(pt gpudevice.PipelineType, outDType dtype.DType, input *bufcache.BufferReference, inputLayout layout.Layout) (*bufcache.BufferReference, error) {
	dest := c.NewOutput(outDType, layout.Contiguous(inputLayout.Dims()))

	m := meta.NewMetaArray().AddLayout(inputLayout)

	key := gpudevice.PipelineKey{Type: pt, DType: input.DType()}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := queue.Enqueue(inputLayout.ElemCount())
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{input},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	c.Queue.Enqueue(d)
	return dest, nil
}

// QueueConvertU32ToF32 reinterprets a u32 buffer as f32, element for
// element, per inputLayout.
func (c *Context) QueueConvertU32ToF32(input *bufcache.BufferReference, inputLayout layout.Layout) (*bufcache.BufferReference, error) {
	return c.queueElementConvert(gpudevice.ConvertU32ToF32, dtype.F32, input, inputLayout)
}

// QueueConvertU8ToF32 reinterprets a u8 buffer as f32, element for
// element, per inputLayout.
func (c *Context) QueueConvertU8ToF32(input *bufcache.BufferReference, inputLayout layout.Layout) (*bufcache.BufferReference, error) {
	return c.queueElementConvert(gpudevice.ConvertU8ToF32, dtype.F32, input, inputLayout)
}

// QueueConvertF32ToU32 reinterprets an f32 buffer as u32, element for
// element, per inputLayout.
func (c *Context) QueueConvertF32ToU32(input *bufcache.BufferReference, inputLayout layout.Layout) (*bufcache.BufferReference, error) {
	return c.queueElementConvert(gpudevice.ConvertF32ToU32, dtype.U32, input, inputLayout)
}

// queueByteConvert is the shared shape behind QueueConvertU32ToU8 and
// QueueConvertF32ToU8: a byte-range reinterpretation (4-byte source
// elements packed down to bytes) producing size output bytes from input
// starting at word startOffset, dispatched at ceil(size/4) workgroup-granularity
// elements since each invocation handles one 4-byte source word.
func (c *Context) queueByteConvert(pt gpudevice.PipelineType, input *bufcache.BufferReference, startOffset, size uint32) (*bufcache.BufferReference, error) {
	dest := c.NewOutput(dtype.U8, layout.Contiguous([]uint32{size}))

	m := meta.NewMetaArray().Add(startOffset).Add(size)

	key := gpudevice.PipelineKey{Type: pt, DType: input.DType()}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := queue.Enqueue((size + 3) / 4)
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{input},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	c.Queue.Enqueue(d)
	return dest, nil
}

// QueueConvertU32ToU8 packs size bytes starting at startOffset words of
// a u32 buffer down into a u8 buffer.
func (c *Context) QueueConvertU32ToU8(input *bufcache.BufferReference, startOffset, size uint32) (*bufcache.BufferReference, error) {
	return c.queueByteConvert(gpudevice.ConvertU32ToU8, input, startOffset, size)
}

// QueueConvertF32ToU8 packs size bytes starting at startOffset words of
// an f32 buffer down into a u8 buffer.
func (c *Context) QueueConvertF32ToU8(input *bufcache.BufferReference, startOffset, size uint32) (*bufcache.BufferReference, error) {
	return c.queueByteConvert(gpudevice.ConvertF32ToU8, input, startOffset, size)
}
