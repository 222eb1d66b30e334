package gpudevice

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxy-gpu/tensorcore/dtype"
	"github.com/oxy-gpu/tensorcore/meta"
)

func TestPipelineTypeArity(t *testing.T) {
	assert.Equal(t, Arity0, UnaryInplaceContiguous.Arity())
	assert.Equal(t, Arity1, UnaryFromBufferContiguous.Arity())
	assert.Equal(t, Arity1x16, BinaryInplace1ContiguousBoth.Arity())
	assert.Equal(t, Arity2, BinaryBufferFromBufferContiguousBoth.Arity())
	assert.Equal(t, Arity2, Matmul.Arity())
}

func TestPipelineKeyStringIncludesConsts(t *testing.T) {
	bare := PipelineKey{Type: Copy, DType: dtype.F32}
	withConsts := PipelineKey{Type: Copy, DType: dtype.F32, Consts: meta.NewConstArray().Add(0, 7)}

	assert.NotEqual(t, bare.String(), withConsts.String())
	assert.Contains(t, withConsts.String(), "0=7")
}

func TestPipelineKeyStringStableForEqualConsts(t *testing.T) {
	a := PipelineKey{Type: Matmul, DType: dtype.F32, Consts: meta.NewConstArray().Add(0, 4).Add(1, 2)}
	b := PipelineKey{Type: Matmul, DType: dtype.F32, Consts: meta.NewConstArray().Add(0, 4).Add(1, 2)}

	assert.Equal(t, a.String(), b.String())
}
