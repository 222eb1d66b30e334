package ops

import (
	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/layout"
	"github.com/oxy-gpu/tensorcore/meta"
	"github.com/oxy-gpu/tensorcore/queue"
)

// MatmulParams describes a batched matrix multiply: lhs (Batch, M, K)
// times rhs (Batch, K, N) producing (Batch, M, N). Batch may be 1 for an
// unbatched multiply; lhsLayout/rhsLayout carry the real strides so a
// transposed operand (e.g. computing A * B^T without a materialized
// transpose) dispatches correctly.
//
// The original's queue_matmul_buffer body was not among the retrieved
// source files; this encoder's tiling (16x16 output tile per workgroup,
// one workgroup invocation per output element, z-dimension walking the
// batch) follows the same shape conv2d's tiling does, adapted to a
// matmul's two spatial output dims (M, N) in place of (H, W).
type MatmulParams struct {
	Batch, M, N, K uint32
}

// QueueMatmul encodes a batched matmul dispatch.
func (c *Context) QueueMatmul(lhs *bufcache.BufferReference, lhsLayout layout.Layout, rhs *bufcache.BufferReference, rhsLayout layout.Layout, p MatmulParams) (*bufcache.BufferReference, error) {
	dest := c.NewOutput(lhs.DType(), layout.Contiguous([]uint32{p.Batch, p.M, p.N}))

	m := meta.NewMetaArray().AddLayout(lhsLayout).AddLayout(rhsLayout)
	m.AddInt(int(p.M)).AddInt(int(p.N)).AddInt(int(p.K)).AddInt(int(p.Batch))

	consts := meta.NewConstArray()
	consts.Add(0, p.K).Add(1, p.Batch)

	key := gpudevice.PipelineKey{Type: gpudevice.Matmul, DType: lhs.DType(), Consts: consts}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := (p.N+15)/16, (p.M+15)/16, p.Batch
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{lhs, rhs},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	d.WithWorkload(uint64(p.Batch) * uint64(p.M) * uint64(p.N) * uint64(p.K))
	c.Queue.Enqueue(d)
	return dest, nil
}
