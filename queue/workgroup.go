// Package queue implements the dispatch stream and flush planner: the
// in-memory record of queued GPU work, the prepare/set_buffers/
// get_command_buffer planning pipeline, and the blocking and
// asynchronous flush paths that turn queued dispatches into submitted
// command buffers.
package queue

import "fmt"

const (
	// WorkgroupSize is the fixed local size every compute kernel this
	// module dispatches declares.
	WorkgroupSize = 64
	// MaxDispatchSize is the largest workgroup count permitted along any
	// single dispatch dimension by the WebGPU spec.
	MaxDispatchSize = 65535
)

// InvariantViolation is a fatal, non-recoverable condition: the planner
// or an op encoder asked for a dispatch extent (or a meta/const budget)
// that physically cannot be satisfied. The original panics at exactly
// these points; this module does the same; they are bugs in a caller,
// never a runtime condition a caller can usefully recover from.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Msg }

func panicInvariant(format string, args ...any) {
	panic(&InvariantViolation{Msg: fmt.Sprintf(format, args...)})
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		panicInvariant("ceilDiv by zero")
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

// Enqueue computes the (x, y, z) workgroup counts for a 1-D dispatch over
// totalElems elements at WorkgroupSize granularity, falling back to a 2-D
// tiling via EnqueueBig once the naive 1-D workgroup count would exceed
// MaxDispatchSize.
func Enqueue(totalElems uint32) (x, y, z uint32) {
	totalWg := ceilDiv(totalElems, WorkgroupSize)
	if totalWg > MaxDispatchSize {
		return EnqueueBig(totalElems)
	}
	return totalWg, 1, 1
}

// EnqueueBig tiles a 1-D dispatch whose naive workgroup count exceeds
// MaxDispatchSize across the y dimension: x is capped at MaxDispatchSize
// and y holds however many "rows" of MaxDispatchSize workgroups are
// needed to cover the total. Panics with InvariantViolation if even this
// does not fit — i.e. more than MaxDispatchSize*MaxDispatchSize
// workgroups, which no supported op ever requests.
func EnqueueBig(totalElems uint32) (x, y, z uint32) {
	totalWg := ceilDiv(totalElems, WorkgroupSize)
	x = totalWg
	if x > MaxDispatchSize {
		x = MaxDispatchSize
	}
	y = ceilDiv(totalWg, MaxDispatchSize)
	if y > MaxDispatchSize {
		panicInvariant("dispatch extent %d exceeds %d x %d workgroups", totalElems, MaxDispatchSize, MaxDispatchSize)
	}
	return x, y, 1
}
