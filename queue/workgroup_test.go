package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueSmall(t *testing.T) {
	x, y, z := Enqueue(128)
	assert.Equal(t, uint32(2), x)
	assert.Equal(t, uint32(1), y)
	assert.Equal(t, uint32(1), z)
}

func TestEnqueueExactBoundary(t *testing.T) {
	// exactly MaxDispatchSize workgroups worth of elements
	x, y, z := Enqueue(MaxDispatchSize * WorkgroupSize)
	assert.Equal(t, uint32(MaxDispatchSize), x)
	assert.Equal(t, uint32(1), y)
	assert.Equal(t, uint32(1), z)
}

func TestEnqueueOverBoundaryFallsBackToBig(t *testing.T) {
	x, y, _ := Enqueue(MaxDispatchSize*WorkgroupSize + 1)
	assert.Equal(t, uint32(MaxDispatchSize), x)
	assert.Equal(t, uint32(2), y)
}

func TestEnqueueBigStaysWithinDoubleBoundary(t *testing.T) {
	// The largest totalElems a uint32 can represent never actually drives
	// EnqueueBig's y dimension past MaxDispatchSize — the panic path
	// exists as a backstop, not a reachable case for this element count
	// range.
	x, y, _ := EnqueueBig(^uint32(0))
	assert.LessOrEqual(t, x, uint32(MaxDispatchSize))
	assert.LessOrEqual(t, y, uint32(MaxDispatchSize))
}
