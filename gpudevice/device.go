// Package gpudevice owns the single point of contact with the wgpu
// driver: instance/adapter/device/queue bring-up, the six fixed
// bind-group and pipeline layouts every compute dispatch uses, and the
// compiled-pipeline cache keyed by PipelineKey.
package gpudevice

import (
	"context"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"golang.org/x/sync/singleflight"

	"github.com/oxy-gpu/tensorcore/config"
)

// ShaderSource is an opaque, externally-authored compute kernel: its
// WGSL text and entry point name. This module never parses or generates
// WGSL — kernel authoring is contracted only at this interface.
type ShaderSource struct {
	Label      string
	Code       string
	EntryPoint string
}

// Device wraps the driver objects and caches every compiled resource
// derived from them.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	cfg   config.Config
	cfgMu sync.RWMutex

	bindGroupLayouts [arityCount]*wgpu.BindGroupLayout
	pipelineLayouts  [arityCount]*wgpu.PipelineLayout

	shaderMu  sync.Mutex
	shaders   map[string]*wgpu.ShaderModule

	pipelineMu sync.Mutex
	pipelines  map[string]*wgpu.ComputePipeline
	compileSF  singleflight.Group
}

// Option configures a Device during construction.
type Option func(*deviceOptions)

type deviceOptions struct {
	cfg               config.Config
	forceFallback     bool
	label             string
}

// WithConfig sets the planner budgets this device starts with.
func WithConfig(cfg config.Config) Option {
	return func(o *deviceOptions) {
		o.cfg = cfg
	}
}

// WithForceFallbackAdapter requests the software/fallback adapter,
// matching wgpu.RequestAdapterOptions.ForceFallbackAdapter — useful for
// headless CI.
func WithForceFallbackAdapter(force bool) Option {
	return func(o *deviceOptions) {
		o.forceFallback = force
	}
}

// WithLabel sets the device's driver-visible debug label.
func WithLabel(label string) Option {
	return func(o *deviceOptions) {
		o.label = label
	}
}

// New brings up a wgpu instance/adapter/device/queue with no attached
// surface (this core never presents a frame) and builds the six
// bind-group and pipeline layouts up front.
func New(ctx context.Context, opts ...Option) (*Device, error) {
	o := deviceOptions{cfg: config.Default(), label: "tensorcore"}
	for _, opt := range opts {
		opt(&o)
	}

	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: o.forceFallback,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("gpudevice: requesting adapter: %w", err)
	}

	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 8

	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: o.label,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("gpudevice: requesting device: %w", err)
	}

	queue := dev.GetQueue()

	d := &Device{
		instance: instance,
		adapter:  adapter,
		device:   dev,
		queue:    queue,
		cfg:      o.cfg,
		shaders:  make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}

	if err := d.buildLayouts(); err != nil {
		d.Release()
		return nil, err
	}

	return d, nil
}

// buildLayouts constructs the six fixed bind-group layouts (and their
// matching pipeline layouts) used by every dispatch. Binding 0 is the
// dest buffer, binding 1 is the shared meta buffer at a 256-byte dynamic
// offset window, bindings 2-4 are inputs.
func (d *Device) buildLayouts() error {
	for a := BindGroupArity(0); a < arityCount; a++ {
		entries := []wgpu.BindGroupLayoutEntry{
			destEntry(a.Wide()),
			metaEntry(),
		}
		for i := 0; i < a.InputCount(); i++ {
			entries = append(entries, inputEntry(uint32(2+i)))
		}

		bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("tensorcore-bgl-%s", a),
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("gpudevice: creating bind group layout %s: %w", a, err)
		}
		d.bindGroupLayouts[a] = bgl

		pl, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
			Label:            fmt.Sprintf("tensorcore-pl-%s", a),
			BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
		})
		if err != nil {
			return fmt.Errorf("gpudevice: creating pipeline layout %s: %w", a, err)
		}
		d.pipelineLayouts[a] = pl
	}
	return nil
}

func destEntry(wide bool) wgpu.BindGroupLayoutEntry {
	var minSize uint64 = 4
	if wide {
		minSize = 16
	}
	return wgpu.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: wgpu.ShaderStageCompute,
		Buffer: wgpu.BufferBindingLayout{
			Type:             wgpu.BufferBindingTypeStorage,
			HasDynamicOffset: false,
			MinBindingSize:   minSize,
		},
	}
}

func metaEntry() wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    1,
		Visibility: wgpu.ShaderStageCompute,
		Buffer: wgpu.BufferBindingLayout{
			Type:             wgpu.BufferBindingTypeUniform,
			HasDynamicOffset: true,
			MinBindingSize:   256,
		},
	}
}

func inputEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: wgpu.ShaderStageCompute,
		Buffer: wgpu.BufferBindingLayout{
			Type:             wgpu.BufferBindingTypeReadOnlyStorage,
			HasDynamicOffset: false,
			MinBindingSize:   4,
		},
	}
}

// Raw returns the underlying driver device and queue, for callers
// (bufcache allocators, op encoders) that must issue driver calls this
// package does not wrap directly.
func (d *Device) Raw() (*wgpu.Device, *wgpu.Queue) {
	return d.device, d.queue
}

// BindGroupLayout returns the fixed layout for the given arity.
func (d *Device) BindGroupLayout(a BindGroupArity) *wgpu.BindGroupLayout {
	return d.bindGroupLayouts[a]
}

// PipelineLayout returns the fixed pipeline layout for the given arity.
func (d *Device) PipelineLayout(a BindGroupArity) *wgpu.PipelineLayout {
	return d.pipelineLayouts[a]
}

// Config returns the currently active planner budgets.
func (d *Device) Config() config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// SetConfig replaces the active planner budgets, e.g. from config.Watch.
func (d *Device) SetConfig(cfg config.Config) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
}

// shaderModule returns the cached *wgpu.ShaderModule for src, compiling
// it on first use.
func (d *Device) shaderModule(src ShaderSource) (*wgpu.ShaderModule, error) {
	d.shaderMu.Lock()
	defer d.shaderMu.Unlock()

	if m, ok := d.shaders[src.Label]; ok {
		return m, nil
	}
	m, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: src.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: src.Code,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpudevice: compiling shader %q: %w", src.Label, err)
	}
	d.shaders[src.Label] = m
	return m, nil
}

// GetPipeline returns the compiled pipeline for key, building it from
// src on first use. Concurrent requests for the same key are
// deduplicated via singleflight so two dispatch streams sharing a Device
// never race to compile the same specialization twice.
func (d *Device) GetPipeline(key PipelineKey, src ShaderSource) (*wgpu.ComputePipeline, error) {
	cacheKey := key.String()

	d.pipelineMu.Lock()
	if p, ok := d.pipelines[cacheKey]; ok {
		d.pipelineMu.Unlock()
		return p, nil
	}
	d.pipelineMu.Unlock()

	v, err, _ := d.compileSF.Do(cacheKey, func() (any, error) {
		d.pipelineMu.Lock()
		if p, ok := d.pipelines[cacheKey]; ok {
			d.pipelineMu.Unlock()
			return p, nil
		}
		d.pipelineMu.Unlock()

		module, err := d.shaderModule(src)
		if err != nil {
			return nil, err
		}

		arity := key.Type.Arity()
		pipeline, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  cacheKey,
			Layout: d.pipelineLayouts[arity],
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: src.EntryPoint,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("gpudevice: compiling pipeline %q: %w", cacheKey, err)
		}

		d.pipelineMu.Lock()
		d.pipelines[cacheKey] = pipeline
		d.pipelineMu.Unlock()
		return pipeline, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*wgpu.ComputePipeline), nil
}

// MinStorageBufferOffsetAlignment returns the device's reported minimum
// storage-buffer offset alignment, or the configured fallback if the
// driver reports zero (never true on real hardware; keeps the meta
// packer total on a test double).
func (d *Device) MinStorageBufferOffsetAlignment() uint32 {
	limits := d.adapter.GetLimits()
	if limits.MinStorageBufferOffsetAlignment == 0 {
		return d.Config().MinStorageBufferOffsetAlignmentFallback
	}
	return limits.MinStorageBufferOffsetAlignment
}

// Poll blocks (wait=true) or performs a single non-blocking tick
// (wait=false) of the driver's work queue, used by the command queue's
// blocking and async flush paths respectively.
func (d *Device) Poll(wait bool) bool {
	return d.device.Poll(wait, nil)
}

// Release tears down every cached driver resource and the device itself.
func (d *Device) Release() {
	d.pipelineMu.Lock()
	for _, p := range d.pipelines {
		p.Release()
	}
	d.pipelines = nil
	d.pipelineMu.Unlock()

	d.shaderMu.Lock()
	for _, m := range d.shaders {
		m.Release()
	}
	d.shaders = nil
	d.shaderMu.Unlock()

	for i := range d.pipelineLayouts {
		if d.pipelineLayouts[i] != nil {
			d.pipelineLayouts[i].Release()
		}
	}
	for i := range d.bindGroupLayouts {
		if d.bindGroupLayouts[i] != nil {
			d.bindGroupLayouts[i].Release()
		}
	}

	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
}
