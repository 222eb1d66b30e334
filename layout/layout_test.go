package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContiguousStrides(t *testing.T) {
	l := Contiguous([]uint32{2, 3, 4})
	assert.Equal(t, []uint32{12, 4, 1}, l.Stride())
	assert.Equal(t, uint32(24), l.ElemCount())
	assert.True(t, l.IsContiguous())
}

func TestWithStridesNonContiguous(t *testing.T) {
	// transposed 2x3 view of a 3x2 backing buffer
	l := WithStrides([]uint32{2, 3}, []uint32{1, 2}, 0)
	assert.False(t, l.IsContiguous())
	assert.Equal(t, uint32(6), l.ElemCount())
}

func TestDimOutOfRange(t *testing.T) {
	l := Contiguous([]uint32{5})
	assert.Equal(t, uint32(5), l.Dim(0))
	assert.Equal(t, uint32(0), l.Dim(3))
}
