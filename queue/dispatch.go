package queue

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/meta"
)

// Dispatch is one queued unit of GPU work: a pipeline identity, its meta
// parameters, its destination and input buffer references, and the
// workgroup extent to dispatch with. It starts out fully logical (Dest
// and Inputs are BufferReferences that may not have concrete storage
// yet) and is progressively rewritten and materialized by the flush
// planner.
type Dispatch struct {
	Pipeline gpudevice.PipelineKey
	Shader   gpudevice.ShaderSource
	Meta     *meta.MetaArray

	Dest   *bufcache.BufferReference
	Inputs []*bufcache.BufferReference

	WorkgroupX, WorkgroupY, WorkgroupZ uint32

	// elided is set by the planner when a copy-elision rewrite transfers
	// storage ownership from input to dest instead of dispatching.
	elided bool

	// metaOffset is the word offset this dispatch's meta record lands at
	// within the shared flush-local meta buffer, filled in by set_buffers.
	metaOffset uint32

	// boundBindGroup is the materialized bind group this dispatch will
	// execute with, filled in by set_buffers.
	boundBindGroup *boundGroup

	workload uint64
}

type boundGroup struct {
	arity gpudevice.BindGroupArity
	key   string
	group *wgpu.BindGroup
}

// WorkloadSize estimates this dispatch's relative cost for
// MaxWorkloadSize accounting: the number of elements the dest buffer's
// layout describes. Op encoders that do more per-element work (e.g.
// convolutions multiply by kernel element count) set this explicitly via
// WithWorkload.
func (d *Dispatch) WorkloadSize() uint64 {
	if d.workload != 0 {
		return d.workload
	}
	return uint64(d.Dest.Layout().ElemCount())
}

// WithWorkload overrides the default element-count workload estimate,
// used by op encoders (conv2d, matmul) whose per-element cost is a
// multiple of the dest element count.
func (d *Dispatch) WithWorkload(w uint64) *Dispatch {
	d.workload = w
	return d
}
