package ops

import (
	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/layout"
	"github.com/oxy-gpu/tensorcore/meta"
	"github.com/oxy-gpu/tensorcore/queue"
)

// Conv2DParams describes a 2-D convolution's shape and window
// parameters, matching candle's NCHW convention: input (B, Cin, H, W),
// kernel (Cout, Cin, KH, KW).
type Conv2DParams struct {
	BatchSize, CIn, COut   uint32
	InH, InW               uint32
	KH, KW                 uint32
	PadH, PadW             uint32
	StrideH, StrideW       uint32
	DilationH, DilationW   uint32
}

func (p Conv2DParams) outHW() (outH, outW uint32) {
	outH = (p.InH+2*p.PadH-p.DilationH*(p.KH-1)-1)/p.StrideH + 1
	outW = (p.InW+2*p.PadW-p.DilationW*(p.KW-1)-1)/p.StrideW + 1
	return
}

// conv2DPreCopyPolicy reports whether a strided input should be copied
// to a contiguous transient buffer before the convolution kernel runs:
// true when the input's innermost stride is non-unit (genuinely
// strided) and the convolution is large enough (wide output channel
// count, tall/wide spatial extent) that the kernel's strided-read
// overhead would outweigh a one-time contiguous copy.
func conv2DPreCopyPolicy(inputLayout layout.Layout, p Conv2DParams) bool {
	stride := inputLayout.Stride()
	if len(stride) < 4 {
		return false
	}
	return stride[3] != 1 && p.COut > 32 && p.InH >= 64 && p.InW >= 64
}

// QueueConv2D encodes a 2-D convolution. If the input layout is strided
// in a way conv2DPreCopyPolicy flags as worth avoiding, it first queues
// a contiguous copy of the input (via QueueCopy) and convolves against
// that instead.
func (c *Context) QueueConv2D(input *bufcache.BufferReference, inputLayout layout.Layout, kernel *bufcache.BufferReference, kernelLayout layout.Layout, p Conv2DParams) (*bufcache.BufferReference, error) {
	if conv2DPreCopyPolicy(inputLayout, p) {
		contiguous := layout.Contiguous(inputLayout.Dims())
		copied, err := c.QueueCopy(input, inputLayout, contiguous)
		if err != nil {
			return nil, err
		}
		input, inputLayout = copied, contiguous
	}

	outH, outW := p.outHW()
	outDims := []uint32{p.BatchSize, p.COut, outH, outW}
	dest := c.NewOutput(input.DType(), layout.Contiguous(outDims))

	m := meta.NewMetaArray().AddLayout(inputLayout).AddLayout(kernelLayout)
	m.AddInt(int(p.PadH)).AddInt(int(p.PadW))
	m.AddInt(int(p.StrideH)).AddInt(int(p.StrideW))
	m.AddInt(int(p.DilationH)).AddInt(int(p.DilationW))
	m.AddInt(int(outH)).AddInt(int(outW))

	consts := meta.NewConstArray()
	consts.Add(0, p.KW).Add(1, p.KH).Add(2, p.StrideW).Add(3, p.DilationW).Add(4, p.BatchSize).Add(5, p.CIn)

	key := gpudevice.PipelineKey{Type: gpudevice.Conv2D, DType: input.DType(), Consts: consts}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := (outW+15)/16, (outH+15)/16, p.COut
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{input, kernel},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	d.WithWorkload(uint64(outW) * uint64(outH) * uint64(p.COut) * uint64(p.BatchSize) * uint64(p.KH) * uint64(p.KW))
	c.Queue.Enqueue(d)
	return dest, nil
}

// Conv2DTransposeParams extends Conv2DParams with the extra output
// padding a transposed convolution needs to resolve the output-size
// ambiguity inherent to deconvolution.
type Conv2DTransposeParams struct {
	Conv2DParams
	OutputPaddingH, OutputPaddingW uint32
}

func (p Conv2DTransposeParams) outHW() (outH, outW uint32) {
	outH = (p.InH-1)*p.StrideH - 2*p.PadH + p.DilationH*(p.KH-1) + p.OutputPaddingH + 1
	outW = (p.InW-1)*p.StrideW - 2*p.PadW + p.DilationW*(p.KW-1) + p.OutputPaddingW + 1
	return
}

// QueueConv2DTranspose encodes a 2-D transposed convolution. It
// validates that the computed output extent exceeds the requested
// output padding before using it to size the dispatch tiling — the
// original's tiling math subtracts output padding from the output
// extent, which underflows to a huge unsigned dispatch count when
// padding is misconfigured larger than the true output; this encoder
// turns that into an explicit InvariantViolation at the encoder boundary
// instead.
func (c *Context) QueueConv2DTranspose(input *bufcache.BufferReference, inputLayout layout.Layout, kernel *bufcache.BufferReference, kernelLayout layout.Layout, p Conv2DTransposeParams) (*bufcache.BufferReference, error) {
	outH, outW := p.outHW()
	if outH <= p.OutputPaddingH || outW <= p.OutputPaddingW {
		invariantViolation("conv2d_transpose: output extent (%d, %d) does not exceed output padding (%d, %d)", outH, outW, p.OutputPaddingH, p.OutputPaddingW)
	}

	outDims := []uint32{p.BatchSize, p.COut, outH, outW}
	dest := c.NewOutput(input.DType(), layout.Contiguous(outDims))

	m := meta.NewMetaArray().AddLayout(inputLayout).AddLayout(kernelLayout)
	m.AddInt(int(p.PadH)).AddInt(int(p.PadW))
	m.AddInt(int(p.StrideH)).AddInt(int(p.StrideW))
	m.AddInt(int(p.DilationH)).AddInt(int(p.DilationW))
	m.AddInt(int(p.OutputPaddingH)).AddInt(int(p.OutputPaddingW))
	m.AddInt(int(outH)).AddInt(int(outW))

	consts := meta.NewConstArray()
	consts.Add(0, p.KW).Add(1, p.StrideW).Add(2, p.DilationW).Add(3, p.BatchSize).Add(4, p.CIn)

	key := gpudevice.PipelineKey{Type: gpudevice.Conv2DTranspose, DType: input.DType(), Consts: consts}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := (outW-p.OutputPaddingW+15)/16, (outH-p.OutputPaddingH+15)/16, p.COut
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{input, kernel},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	d.WithWorkload(uint64(outW) * uint64(outH) * uint64(p.COut) * uint64(p.BatchSize) * uint64(p.KH) * uint64(p.KW))
	c.Queue.Enqueue(d)
	return dest, nil
}

// Conv1DParams describes a 1-D convolution: input (B, Cin, L), kernel
// (Cout, Cin, K).
type Conv1DParams struct {
	BatchSize, CIn, COut uint32
	InL                  uint32
	K                    uint32
	Pad                  uint32
	Stride               uint32
	Dilation             uint32
}

func (p Conv1DParams) outL() uint32 {
	return (p.InL+2*p.Pad-p.Dilation*(p.K-1)-1)/p.Stride + 1
}

// QueueConv1D encodes a 1-D convolution.
func (c *Context) QueueConv1D(input *bufcache.BufferReference, inputLayout layout.Layout, kernel *bufcache.BufferReference, kernelLayout layout.Layout, p Conv1DParams) (*bufcache.BufferReference, error) {
	outL := p.outL()
	dest := c.NewOutput(input.DType(), layout.Contiguous([]uint32{p.BatchSize, p.COut, outL}))

	m := meta.NewMetaArray().AddLayout(inputLayout).AddLayout(kernelLayout)
	m.AddInt(int(p.Pad)).AddInt(int(p.Stride)).AddInt(int(p.Dilation)).AddInt(int(outL))

	consts := meta.NewConstArray()
	consts.Add(0, p.K).Add(1, p.Stride).Add(2, p.Dilation).Add(3, p.BatchSize).Add(4, p.CIn)

	key := gpudevice.PipelineKey{Type: gpudevice.Conv1D, DType: input.DType(), Consts: consts}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := (outL+63)/64, p.COut, uint32(1)
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{input, kernel},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	d.WithWorkload(uint64(outL) * uint64(p.COut) * uint64(p.BatchSize) * uint64(p.K))
	c.Queue.Enqueue(d)
	return dest, nil
}

// Conv1DTransposeParams extends Conv1DParams with output padding.
type Conv1DTransposeParams struct {
	Conv1DParams
	OutputPadding uint32
}

func (p Conv1DTransposeParams) outL() uint32 {
	return (p.InL-1)*p.Stride - 2*p.Pad + p.Dilation*(p.K-1) + p.OutputPadding + 1
}

// QueueConv1DTranspose encodes a 1-D transposed convolution, with the
// same output-padding underflow guard as QueueConv2DTranspose.
func (c *Context) QueueConv1DTranspose(input *bufcache.BufferReference, inputLayout layout.Layout, kernel *bufcache.BufferReference, kernelLayout layout.Layout, p Conv1DTransposeParams) (*bufcache.BufferReference, error) {
	outL := p.outL()
	if outL <= p.OutputPadding {
		invariantViolation("conv1d_transpose: output length %d does not exceed output padding %d", outL, p.OutputPadding)
	}

	dest := c.NewOutput(input.DType(), layout.Contiguous([]uint32{p.BatchSize, p.COut, outL}))

	m := meta.NewMetaArray().AddLayout(inputLayout).AddLayout(kernelLayout)
	m.AddInt(int(p.Pad)).AddInt(int(p.Stride)).AddInt(int(p.Dilation)).AddInt(int(p.OutputPadding)).AddInt(int(outL))

	consts := meta.NewConstArray()
	consts.Add(0, p.K).Add(1, p.Stride).Add(2, p.Dilation).Add(3, p.BatchSize).Add(4, p.CIn)

	key := gpudevice.PipelineKey{Type: gpudevice.Conv1DTranspose, DType: input.DType(), Consts: consts}
	src, err := c.shaderFor(key)
	if err != nil {
		return nil, err
	}

	x, y, z := (outL-p.OutputPadding+63)/64, p.COut, uint32(1)
	d := &queue.Dispatch{
		Pipeline:   key,
		Shader:     src,
		Meta:       m,
		Dest:       dest,
		Inputs:     []*bufcache.BufferReference{input, kernel},
		WorkgroupX: x, WorkgroupY: y, WorkgroupZ: z,
	}
	d.WithWorkload(uint64(outL) * uint64(p.COut) * uint64(p.BatchSize) * uint64(p.K))
	c.Queue.Enqueue(d)
	return dest, nil
}
