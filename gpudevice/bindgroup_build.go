package gpudevice

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// CreateBindGroup materializes a concrete bind group for the given
// arity: dest at binding 0, the shared meta buffer at binding 1 (its
// per-dispatch window is selected later via a dynamic offset at encode
// time, not at bind-group creation time), and inputs at bindings 2-4.
func (d *Device) CreateBindGroup(arity BindGroupArity, metaBuffer, dest *wgpu.Buffer, inputs []*wgpu.Buffer) (*wgpu.BindGroup, error) {
	if len(inputs) != arity.InputCount() {
		return nil, fmt.Errorf("gpudevice: arity %s expects %d inputs, got %d", arity, arity.InputCount(), len(inputs))
	}

	entries := []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: dest, Offset: 0, Size: dest.GetSize()},
		{Binding: 1, Buffer: metaBuffer, Offset: 0, Size: 256},
	}
	for i, in := range inputs {
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(2 + i),
			Buffer:  in,
			Offset:  0,
			Size:    in.GetSize(),
		})
	}

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   fmt.Sprintf("tensorcore-bg-%s", arity),
		Layout:  d.bindGroupLayouts[arity],
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpudevice: creating bind group: %w", err)
	}
	return bg, nil
}
