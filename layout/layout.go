// Package layout describes how a tensor's logical shape maps onto the
// flat element indices of its backing buffer: shape, per-dimension
// strides, and a start offset into that buffer.
package layout

// Layout is the strided-view description every op encoder consumes to
// build its constant/meta parameters. It never owns storage; it only
// indexes into whatever CachedBuffer a BufferReference eventually
// resolves to.
type Layout struct {
	dims       []uint32
	stride     []uint32
	startOffset uint32
}

// New builds a contiguous (row-major) layout for the given dims, matching
// Rust candle's Layout::contiguous.
func New(dims []uint32) Layout {
	return Contiguous(dims)
}

// Contiguous returns the row-major layout for dims with a zero start offset.
func Contiguous(dims []uint32) Layout {
	stride := make([]uint32, len(dims))
	acc := uint32(1)
	for i := len(dims) - 1; i >= 0; i-- {
		stride[i] = acc
		acc *= dims[i]
	}
	return Layout{dims: append([]uint32(nil), dims...), stride: stride}
}

// WithStrides builds an explicit strided layout (e.g. for a transposed or
// sliced view) at the given start offset.
func WithStrides(dims, stride []uint32, startOffset uint32) Layout {
	return Layout{
		dims:        append([]uint32(nil), dims...),
		stride:      append([]uint32(nil), stride...),
		startOffset: startOffset,
	}
}

// Dims returns the shape.
func (l Layout) Dims() []uint32 { return l.dims }

// Stride returns the per-dimension element stride.
func (l Layout) Stride() []uint32 { return l.stride }

// StartOffset returns the element offset into the backing buffer.
func (l Layout) StartOffset() uint32 { return l.startOffset }

// Rank returns the number of dimensions.
func (l Layout) Rank() int { return len(l.dims) }

// ElemCount returns the total number of logical elements described by the
// shape, independent of strides.
func (l Layout) ElemCount() uint32 {
	if len(l.dims) == 0 {
		return 0
	}
	n := uint32(1)
	for _, d := range l.dims {
		n *= d
	}
	return n
}

// IsContiguous reports whether the layout's strides match the row-major
// strides implied by its shape and its start offset is whatever it is —
// i.e. whether the elements form one unbroken run with no gaps.
func (l Layout) IsContiguous() bool {
	expect := uint32(1)
	for i := len(l.dims) - 1; i >= 0; i-- {
		if l.dims[i] == 0 {
			continue
		}
		if l.stride[i] != expect {
			return false
		}
		expect *= l.dims[i]
	}
	return true
}

// Dim returns the size of dimension i, or 0 if out of range.
func (l Layout) Dim(i int) uint32 {
	if i < 0 || i >= len(l.dims) {
		return 0
	}
	return l.dims[i]
}
