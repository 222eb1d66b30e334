package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxy-gpu/tensorcore/layout"
)

func TestConv2DParamsOutHW(t *testing.T) {
	p := Conv2DParams{
		InH: 8, InW: 8,
		KH: 3, KW: 3,
		PadH: 1, PadW: 1,
		StrideH: 1, StrideW: 1,
		DilationH: 1, DilationW: 1,
	}
	outH, outW := p.outHW()
	assert.Equal(t, uint32(8), outH)
	assert.Equal(t, uint32(8), outW)
}

func TestConv2DParamsOutHWStrided(t *testing.T) {
	p := Conv2DParams{
		InH: 9, InW: 9,
		KH: 3, KW: 3,
		PadH: 0, PadW: 0,
		StrideH: 2, StrideW: 2,
		DilationH: 1, DilationW: 1,
	}
	outH, outW := p.outHW()
	// (9 - 2 - 1)/2 + 1 = 4
	assert.Equal(t, uint32(4), outH)
	assert.Equal(t, uint32(4), outW)
}

func TestConv2DPreCopyPolicyTriggersOnlyWhenAllConditionsHold(t *testing.T) {
	strided := layout.WithStrides([]uint32{1, 64, 64, 64}, []uint32{64 * 64 * 64, 64 * 64, 64, 2}, 0)

	big := Conv2DParams{COut: 64, InH: 64, InW: 64}
	assert.True(t, conv2DPreCopyPolicy(strided, big))

	smallChannels := Conv2DParams{COut: 16, InH: 64, InW: 64}
	assert.False(t, conv2DPreCopyPolicy(strided, smallChannels))

	smallSpatial := Conv2DParams{COut: 64, InH: 32, InW: 32}
	assert.False(t, conv2DPreCopyPolicy(strided, smallSpatial))

	contiguous := layout.Contiguous([]uint32{1, 64, 64, 64})
	assert.False(t, conv2DPreCopyPolicy(contiguous, big))
}

func TestConv2DTransposeParamsOutHW(t *testing.T) {
	p := Conv2DTransposeParams{
		Conv2DParams: Conv2DParams{
			InH: 4, InW: 4,
			KH: 3, KW: 3,
			PadH: 0, PadW: 0,
			StrideH: 2, StrideW: 2,
			DilationH: 1, DilationW: 1,
		},
		OutputPaddingH: 1, OutputPaddingW: 1,
	}
	outH, outW := p.outHW()
	// (4-1)*2 - 0 + 1*(3-1) + 1 + 1 = 6 + 2 + 2 = 10
	assert.Equal(t, uint32(10), outH)
	assert.Equal(t, uint32(10), outW)
	assert.Greater(t, outH, p.OutputPaddingH)
}

func TestConv1DParamsOutL(t *testing.T) {
	p := Conv1DParams{InL: 10, K: 3, Pad: 1, Stride: 1, Dilation: 1}
	assert.Equal(t, uint32(10), p.outL())
}
