package tensorcore

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/common"
	"github.com/oxy-gpu/tensorcore/dtype"
	"github.com/oxy-gpu/tensorcore/layout"
)

// UploadToGPU materializes data as a fresh, immediately-backed
// BufferReference: it allocates (or recycles) storage through b's
// pool and writes data straight into it via the driver queue, the same
// WriteBuffer path the flush loop uses for the shared meta buffer.
// Unlike an op encoder's output, the returned reference is backed from
// the moment this call returns — no flush is required before it can be
// read back or used as an op input.
func UploadToGPU[T any](b Backend, dt dtype.DType, l layout.Layout, data []T) (*bufcache.BufferReference, error) {
	ref := bufcache.New(b.Queue().NextBufferID(), dt, l)

	bytes := common.SliceToBytes(data)
	size := ref.ByteSize()
	if uint64(len(bytes)) != size {
		return nil, fmt.Errorf("tensorcore: upload data is %d bytes, layout expects %d", len(bytes), size)
	}

	cached, err := b.Storage().Get(size)
	if err != nil {
		return nil, fmt.Errorf("tensorcore: allocating upload buffer: %w", err)
	}

	raw, ok := cached.Handle().(*wgpu.Buffer)
	if !ok {
		return nil, fmt.Errorf("tensorcore: upload buffer has no driver handle")
	}

	_, rawQueue := b.Device().Raw()
	rawQueue.WriteBuffer(raw, 0, bytes)

	ref.SetStorage(cached)
	return ref, nil
}
