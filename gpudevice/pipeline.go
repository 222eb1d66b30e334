package gpudevice

import (
	"fmt"

	"github.com/oxy-gpu/tensorcore/dtype"
	"github.com/oxy-gpu/tensorcore/meta"
)

// PipelineType names a compute kernel family. Some variants exist purely
// as in-place or copy-eliding rewrites of another: the flush planner
// retargets a freshly queued Dispatch's PipelineType from e.g.
// UnaryFromBufferContiguous to UnaryInplaceContiguous once it proves the
// rewrite is sound (see the queue package's applyInPlaceRewrite), never
// the other way around.
type PipelineType uint8

const (
	UnaryFromBufferContiguous PipelineType = iota
	UnaryInplaceContiguous
	UnaryStrided

	BinaryBufferFromBufferContiguousBoth
	BinaryInplace1ContiguousBoth
	BinaryInplace2ContiguousBoth
	BinaryStrided

	Copy
	// CopyInplace is never actually dispatched — set_buffers elides it
	// entirely by transferring storage ownership from source to
	// destination — but it is named here so a PipelineKey can still
	// describe "this dispatch was elided" in logs/stats.
	CopyInplace

	ConvertU32ToF32
	ConvertU8ToF32
	ConvertF32ToU32
	ConvertU32ToU8
	ConvertF32ToU8

	Conv2D
	Conv2DTranspose
	Conv1D
	Conv1DTranspose

	Matmul
	Reduce
)

// String names the pipeline family for pipeline-key rendering and stats.
func (p PipelineType) String() string {
	switch p {
	case UnaryFromBufferContiguous:
		return "unary_from_buffer_contiguous"
	case UnaryInplaceContiguous:
		return "unary_inplace_contiguous"
	case UnaryStrided:
		return "unary_strided"
	case BinaryBufferFromBufferContiguousBoth:
		return "binary_from_buffer_contiguous_both"
	case BinaryInplace1ContiguousBoth:
		return "binary_inplace1_contiguous_both"
	case BinaryInplace2ContiguousBoth:
		return "binary_inplace2_contiguous_both"
	case BinaryStrided:
		return "binary_strided"
	case Copy:
		return "copy"
	case CopyInplace:
		return "copy_inplace"
	case ConvertU32ToF32:
		return "convert_u32_to_f32"
	case ConvertU8ToF32:
		return "convert_u8_to_f32"
	case ConvertF32ToU32:
		return "convert_f32_to_u32"
	case ConvertU32ToU8:
		return "convert_u32_to_u8"
	case ConvertF32ToU8:
		return "convert_f32_to_u8"
	case Conv2D:
		return "conv2d"
	case Conv2DTranspose:
		return "conv2d_transpose"
	case Conv1D:
		return "conv1d"
	case Conv1DTranspose:
		return "conv1d_transpose"
	case Matmul:
		return "matmul"
	case Reduce:
		return "reduce"
	default:
		return fmt.Sprintf("pipeline(%d)", uint8(p))
	}
}

// Arity returns the bind-group/pipeline-layout shape this pipeline type
// dispatches with.
func (p PipelineType) Arity() BindGroupArity {
	switch p {
	case UnaryInplaceContiguous, CopyInplace:
		return Arity0
	case UnaryFromBufferContiguous, UnaryStrided,
		ConvertU32ToF32, ConvertU8ToF32, ConvertF32ToU32, ConvertU32ToU8, ConvertF32ToU8,
		Copy:
		return Arity1
	case BinaryInplace1ContiguousBoth, BinaryInplace2ContiguousBoth:
		return Arity1x16
	case BinaryBufferFromBufferContiguousBoth, BinaryStrided:
		return Arity2
	case Matmul:
		return Arity2
	case Conv1D, Conv1DTranspose:
		return Arity2
	case Conv2D, Conv2DTranspose:
		return Arity2
	case Reduce:
		return Arity1
	default:
		return Arity1
	}
}

// PipelineKey is the full identity of one specialized, compiled compute
// pipeline: its kernel family, the element type it was specialized for,
// and any pipeline-overridable constants baked in at compile time. Two
// dispatches that produce the same PipelineKey always share the same
// compiled *wgpu.ComputePipeline.
type PipelineKey struct {
	Type   PipelineType
	DType  dtype.DType
	Consts *meta.ConstArray
}

// String renders a stable cache key / log identity for this pipeline.
func (k PipelineKey) String() string {
	c := ""
	if k.Consts != nil {
		c = k.Consts.Key()
	}
	return fmt.Sprintf("%s/%s/%s", k.Type, k.DType, c)
}
