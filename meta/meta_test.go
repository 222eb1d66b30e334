package meta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"

	"github.com/oxy-gpu/tensorcore/layout"
)

func TestMetaArrayLayoutOrder(t *testing.T) {
	l := layout.Contiguous([]uint32{2, 3})
	m := NewMetaArray().AddLayout(l)
	// rank(1) then dims(2) then stride(2) then offset(1) = 6 words
	assert.Equal(t, 6, m.Len())
	assert.Equal(t, []uint32{2, 2, 3, 3, 1, 0}, m.Words())
}

func TestMetaArrayF32Bits(t *testing.T) {
	m := NewMetaArray().AddF32(1.5)
	assert.Equal(t, 1, m.Len())
	assert.NotEqual(t, uint32(0), m.Words()[0])
}

// TestMetaArrayF32BitsRoundTrip checks the packed word decodes back to the
// original epsilon/scalar values a kernel's meta record carries, within
// float32 rounding, against a host-side reference computed independently of
// AddF32's own bit-conversion path.
func TestMetaArrayF32BitsRoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 1e-5, 3.14159}
	decoded := make([]float64, len(values))

	m := NewMetaArray()
	for _, v := range values {
		m.AddF32(v)
	}
	for i, word := range m.Words() {
		decoded[i] = float64(math.Float32frombits(word))
	}

	want := make([]float64, len(values))
	for i, v := range values {
		want[i] = float64(v)
	}

	assert.True(t, floats.EqualApprox(decoded, want, 1e-12))
}

func TestConstArrayOverflowPanics(t *testing.T) {
	c := NewConstArray()
	for i := 0; i < MaxConstEntries; i++ {
		c.Add(uint32(i), uint32(i))
	}
	assert.Panics(t, func() {
		c.Add(999, 1)
	})
}

func TestNextDivisibleByN(t *testing.T) {
	assert.Equal(t, uint32(0), NextDivisibleByN(0, 64))
	assert.Equal(t, uint32(64), NextDivisibleByN(1, 64))
	assert.Equal(t, uint32(64), NextDivisibleByN(64, 64))
	assert.Equal(t, uint32(128), NextDivisibleByN(65, 64))
	assert.Equal(t, uint32(10), NextDivisibleByN(10, 0))
}
