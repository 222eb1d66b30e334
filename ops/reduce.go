package ops

import (
	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/layout"
	"github.com/oxy-gpu/tensorcore/meta"
	"github.com/oxy-gpu/tensorcore/queue"
)

// ReduceOp names a reduction kernel, baked as a pipeline specialization
// constant.
type ReduceOp uint32

const (
	ReduceSum ReduceOp = iota
	ReduceMax
	ReduceMin
)

// QueueReduce encodes a reduction of input along its innermost dimension,
// which must be contiguous (stride 1); the result drops that dimension.
// Like QueueMatmul, this encoder's dispatch shape — one workgroup per
// surviving output element, each looping the reduced axis internally —
// is inferred rather than grounded on a retrieved queue_reduce_from_buffer_op
// body, since only its exposed signature was among the retrieved sources.
func (c *Context) QueueReduce(op ReduceOp, input *bufcache.BufferReference, inputLayout layout.Layout) (*bufcache.BufferReference, error) {
	dims := inputLayout.Dims()
	reduceLen := dims[len(dims)-1]
	outDims := append([]uint32{}, dims[:len(dims)-1]...)
	if len(outDims) == 0 {
		outDims = []uint32{1}
	}

	dest := c.NewOutput(input.DType(), layout.Contiguous(outDims))

	m := meta.NewMetaArray().AddLayout(inputLayout)
	m.AddInt(int(reduceLen))

	consts := meta.NewConstArray().Add(0, uint32(op)).Add(1, reduceLen)

	key := gpudevice.PipelineKey{Type: gpudevice.Reduce, DType: input.DType(), Consts: consts}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	outElems := uint32(1)
	for _, d := range outDims {
		outElems *= d
	}

	x, y, z := queue.Enqueue(outElems * queue.WorkgroupSize)
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{input},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	d.WithWorkload(uint64(outElems) * uint64(reduceLen))
	c.Queue.Enqueue(d)
	return dest, nil
}
