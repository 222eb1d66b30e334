package gpudevice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindGroupArityInputCount(t *testing.T) {
	assert.Equal(t, 0, Arity0.InputCount())
	assert.Equal(t, 1, Arity1.InputCount())
	assert.Equal(t, 1, Arity1x16.InputCount())
	assert.Equal(t, 2, Arity2.InputCount())
	assert.Equal(t, 2, Arity2x16.InputCount())
	assert.Equal(t, 3, Arity3.InputCount())
}

func TestBindGroupArityWide(t *testing.T) {
	assert.False(t, Arity1.Wide())
	assert.True(t, Arity1x16.Wide())
	assert.False(t, Arity2.Wide())
	assert.True(t, Arity2x16.Wide())
}

func TestBindGroupArityString(t *testing.T) {
	assert.Equal(t, "arity2", Arity2.String())
	assert.Equal(t, "arity?", arityCount.String())
}
