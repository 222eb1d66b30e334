package gpudevice

// BindGroupArity names one of the six fixed bind-group/pipeline-layout
// shapes every compute dispatch uses. Binding 0 is always the
// destination buffer, binding 1 is always the shared meta buffer at a
// dynamic offset, and bindings 2-4 (when present) are input buffers. The
// "x16" variants additionally request a larger (16-byte aligned) minimum
// binding size on the dest buffer, needed by kernels that read/write
// vec4-sized chunks (e.g. the binary in-place kernels).
type BindGroupArity uint8

const (
	Arity0 BindGroupArity = iota // dest, meta
	Arity1                      // dest, meta, input0
	Arity1x16                   // dest, meta, input0 (wide dest binding)
	Arity2                      // dest, meta, input0, input1
	Arity2x16                   // dest, meta, input0, input1 (wide dest binding)
	Arity3                      // dest, meta, input0, input1, input2
	arityCount
)

// String names the arity for logging and pipeline-key rendering.
func (a BindGroupArity) String() string {
	switch a {
	case Arity0:
		return "arity0"
	case Arity1:
		return "arity1"
	case Arity1x16:
		return "arity1x16"
	case Arity2:
		return "arity2"
	case Arity2x16:
		return "arity2x16"
	case Arity3:
		return "arity3"
	default:
		return "arity?"
	}
}

// InputCount returns how many input bindings (beyond dest+meta) this
// arity carries.
func (a BindGroupArity) InputCount() int {
	switch a {
	case Arity0:
		return 0
	case Arity1, Arity1x16:
		return 1
	case Arity2, Arity2x16:
		return 2
	case Arity3:
		return 3
	default:
		return 0
	}
}

// Wide reports whether this arity requests the 16-byte-aligned dest
// binding variant.
func (a BindGroupArity) Wide() bool {
	return a == Arity1x16 || a == Arity2x16
}
