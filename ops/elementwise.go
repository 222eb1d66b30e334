package ops

import (
	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/layout"
	"github.com/oxy-gpu/tensorcore/meta"
	"github.com/oxy-gpu/tensorcore/queue"
)

// UnaryOp names an element-wise unary kernel, baked as a pipeline
// specialization constant rather than read from the meta buffer.
type UnaryOp uint32

const (
	UnaryNeg UnaryOp = iota
	UnaryAbs
	UnarySqrt
	UnaryExp
	UnaryLog
	UnaryRelu
	UnarySigmoid
	UnaryGelu
)

// BinaryOp names an element-wise binary kernel.
type BinaryOp uint32

const (
	BinaryAdd BinaryOp = iota
	BinarySub
	BinaryMul
	BinaryDiv
	BinaryMax
	BinaryMin
)

// QueueUnary encodes an element-wise unary op over input. A contiguous
// input layout dispatches the fast contiguous-read kernel variant; a
// strided one dispatches the general strided-read variant. Either may
// later be rewritten in place by the flush planner if input turns out to
// be this dispatch's sole remaining holder.
func (c *Context) QueueUnary(op UnaryOp, input *bufcache.BufferReference, inputLayout layout.Layout) (*bufcache.BufferReference, error) {
	pt := gpudevice.UnaryStrided
	if inputLayout.IsContiguous() {
		pt = gpudevice.UnaryFromBufferContiguous
	}

	dest := c.NewOutput(input.DType(), layout.Contiguous(inputLayout.Dims()))

	m := meta.NewMetaArray().AddLayout(inputLayout)
	consts := meta.NewConstArray().Add(0, uint32(op))

	key := gpudevice.PipelineKey{Type: pt, DType: input.DType(), Consts: consts}
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

// QueueBinary encodes an element-wise binary op over lhs and rhs, which
// must describe the same shape. Both inputs contiguous dispatches the
// fast contiguous-both kernel; otherwise the strided variant.
func (c *Context) QueueBinary(op BinaryOp, lhs *bufcache.BufferReference, lhsLayout layout.Layout, rhs *bufcache.BufferReference, rhsLayout layout.Layout) (*bufcache.BufferReference, error) {
	pt := gpudevice.BinaryStrided
	if lhsLayout.IsContiguous() && rhsLayout.IsContiguous() {
		pt = gpudevice.BinaryBufferFromBufferContiguousBoth
	}

	dest := c.NewOutput(lhs.DType(), layout.Contiguous(lhsLayout.Dims()))

	m := meta.NewMetaArray().AddLayout(lhsLayout).AddLayout(rhsLayout)
	consts := meta.NewConstArray().Add(0, uint32(op))

	key := gpudevice.PipelineKey{Type: pt, DType: lhs.DType(), Consts: consts}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := queue.Enqueue(lhsLayout.ElemCount())
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{lhs, rhs},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	c.Queue.Enqueue(d)
	return dest, nil
}

// QueueCopy encodes a copy of input (read per inputLayout) into a fresh
// buffer shaped per destLayout. When input turns out to be this
// dispatch's sole remaining holder, the flush planner elides the
// dispatch entirely and transfers storage ownership instead of copying
// any bytes.
func (c *Context) QueueCopy(input *bufcache.BufferReference, inputLayout layout.Layout, destLayout layout.Layout) (*bufcache.BufferReference, error) {
	dest := c.NewOutput(input.DType(), destLayout)

	m := meta.NewMetaArray().AddLayout(inputLayout).AddLayout(destLayout)

	key := gpudevice.PipelineKey{Type: gpudevice.Copy, DType: input.DType()}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := queue.Enqueue(destLayout.ElemCount())
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
