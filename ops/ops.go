// Package ops implements the op encoders: the functions that translate
// one tensor operation (a convolution, an element-wise unary/binary op,
// a copy, a dtype conversion, a matmul, a reduction) into a queued
// Dispatch against a CommandQueue. Every encoder here is pure
// bookkeeping — layout math, meta packing, workgroup sizing — and never
// touches the driver directly; only CommandQueue.Flush does that.
package ops

import (
	"fmt"

	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/dtype"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/layout"
	"github.com/oxy-gpu/tensorcore/queue"
)

// ShaderProvider resolves the opaque WGSL source and entry point for a
// given pipeline specialization. Kernel authoring is out of scope for
// this module — callers (typically a small fixed table loaded once at
// startup) own the actual kernel text.
type ShaderProvider interface {
	Source(key gpudevice.PipelineKey) (gpudevice.ShaderSource, error)
}

// Context bundles everything an op encoder needs: the device (for
// pipeline/bind-group layout lookups a future encoder might need) and
// the command queue dispatches are enqueued against, plus the shader
// provider.
type Context struct {
	Dev     *gpudevice.Device
	Queue   *queue.CommandQueue
	Shaders ShaderProvider
}

// NewOutput allocates a fresh, unbacked BufferReference for an
// operation's result, with a queue-unique identity.
func (c *Context) NewOutput(dt dtype.DType, l layout.Layout) *bufcache.BufferReference {
	return bufcache.New(c.Queue.NextBufferID(), dt, l)
}

func (c *Context) shaderFor(key gpudevice.PipelineKey) (gpudevice.ShaderSource, error) {
	src, err := c.Shaders.Source(key)
	if err != nil {
		return gpudevice.ShaderSource{}, fmt.Errorf("ops: resolving shader for %s: %w", key, err)
	}
	return src, nil
}

// invariantViolation mirrors queue's fatal-condition panic for
// conditions an op encoder itself is positioned to catch before ever
// reaching the planner — e.g. a transposed-conv output smaller than its
// requested output padding.
func invariantViolation(format string, args ...any) {
	panic(fmt.Sprintf("invariant violation: "+format, args...))
}
