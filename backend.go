// Package tensorcore wires gpudevice, config, bufcache, bindgroup, queue,
// ops, and stats into a single compute backend: the facade a caller
// actually imports to stand up a device, encode ops against it, and
// flush/synchronize/read back results.
package tensorcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/oxy-gpu/tensorcore/bindgroup"
	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/config"
	"github.com/oxy-gpu/tensorcore/gpudevice"
	"github.com/oxy-gpu/tensorcore/ops"
	"github.com/oxy-gpu/tensorcore/queue"
	"github.com/oxy-gpu/tensorcore/stats"
)

// backend implements Backend.
type backend struct {
	dev        *gpudevice.Device
	storage    *bufcache.StorageCache
	bindGroups *bindgroup.Cache
	q          *queue.CommandQueue
	ops        *ops.Context

	mu             sync.Mutex
	monitor        *stats.Monitor
	statsEnabled   bool

	watchCancel context.CancelFunc
}

// Backend is the main entry point for this module. It orchestrates device
// bring-up, buffer/bind-group pooling, and the command queue a caller
// encodes op dispatches against.
type Backend interface {
	// Device returns the underlying compute device, for callers that need
	// direct layout or pipeline-cache access.
	Device() *gpudevice.Device

	// Queue returns the command queue dispatches accumulate against.
	Queue() *queue.CommandQueue

	// Storage returns the buffer storage cache backing this backend's
	// queue, for UploadToGPU and any caller materializing buffers outside
	// the op encoders.
	Storage() *bufcache.StorageCache

	// Ops returns the op-encoder context bound to this backend's device
	// and queue.
	Ops() *ops.Context

	// EnableStats enables periodic dispatch/cache statistics logging.
	EnableStats()

	// DisableStats disables statistics logging.
	DisableStats()

	// SetStatsInterval sets how often EnableStats logs a summary.
	SetStatsInterval(d time.Duration)

	// Flush blocks until every queued dispatch has executed.
	Flush() error

	// FlushAsync behaves like Flush but suspends on ctx/a poll loop rather
	// than blocking the whole process.
	FlushAsync(ctx context.Context) error

	// Synchronize flushes and blocks until the device has finished
	// executing everything submitted so far.
	Synchronize() error

	// ReadDataFromGPU flushes and returns ref's backing bytes.
	ReadDataFromGPU(ctx context.Context, ref *bufcache.BufferReference) ([]byte, error)

	// Close tears down the device with its cached pipelines, shader
	// modules and layouts, stopping any active config watch. Pooled
	// storage buffers, cached bind groups and the queue's meta and
	// staging-probe buffers are not released individually.
	Close()
}

// Option configures a Backend during construction.
type Option func(*backendOptions)

type backendOptions struct {
	devOpts      []gpudevice.Option
	shaders      ops.ShaderProvider
	statsEnabled bool
	statsEvery   time.Duration
	configPath   string
	watchConfig  bool
}

// WithConfig sets the planner budgets the device starts with.
func WithConfig(cfg config.Config) Option {
	return func(o *backendOptions) {
		o.devOpts = append(o.devOpts, gpudevice.WithConfig(cfg))
	}
}

// WithConfigFile loads planner budgets from a YAML file at construction
// time. A missing file falls back to config.Default().
func WithConfigFile(path string) Option {
	return func(o *backendOptions) {
		o.configPath = path
	}
}

// WithConfigWatch enables hot-reloading WithConfigFile's path: edits to
// the file after construction replace the device's active budgets
// without requiring a restart.
func WithConfigWatch() Option {
	return func(o *backendOptions) {
		o.watchConfig = true
	}
}

// WithForceFallbackAdapter requests the software/fallback adapter.
func WithForceFallbackAdapter(force bool) Option {
	return func(o *backendOptions) {
		o.devOpts = append(o.devOpts, gpudevice.WithForceFallbackAdapter(force))
	}
}

// WithLabel sets the device's driver-visible debug label.
func WithLabel(label string) Option {
	return func(o *backendOptions) {
		o.devOpts = append(o.devOpts, gpudevice.WithLabel(label))
	}
}

// WithShaders sets the shader provider op encoders resolve kernel source
// from. Required — New returns an error without one.
func WithShaders(p ops.ShaderProvider) Option {
	return func(o *backendOptions) {
		o.shaders = p
	}
}

// WithStats enables periodic statistics logging at construction time,
// equivalent to calling EnableStats immediately after New.
func WithStats(every time.Duration) Option {
	return func(o *backendOptions) {
		o.statsEnabled = true
		o.statsEvery = every
	}
}

// New brings up a device, its buffer/bind-group caches, and a command
// queue, applying opts in order.
func New(ctx context.Context, opts ...Option) (Backend, error) {
	o := backendOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.shaders == nil {
		return nil, fmt.Errorf("tensorcore: New requires WithShaders")
	}

	if o.configPath != "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("tensorcore: loading config: %w", err)
		}
		o.devOpts = append([]gpudevice.Option{gpudevice.WithConfig(cfg)}, o.devOpts...)
	}

	dev, err := gpudevice.New(ctx, o.devOpts...)
	if err != nil {
		return nil, err
	}

	b := &backend{dev: dev}
	b.bindGroups = bindgroup.NewCache()
	b.storage = bufcache.NewStorageCache(b.allocate)

	q, err := queue.New(dev, b.storage, b.bindGroups)
	if err != nil {
		dev.Release()
		return nil, err
	}
	b.q = q
	b.ops = &ops.Context{Dev: dev, Queue: q, Shaders: o.shaders}

	if o.statsEnabled {
		b.monitor = stats.NewMonitor(o.statsEvery)
		b.statsEnabled = true
	}

	if o.configPath != "" && o.watchConfig {
		watchCtx, cancel := context.WithCancel(ctx)
		b.watchCancel = cancel
		updates, err := config.Watch(watchCtx, o.configPath)
		if err != nil {
			cancel()
			dev.Release()
			return nil, err
		}
		go b.watchConfig(updates)
	}

	return b, nil
}

// allocate is bufcache.Allocator wired to the real device: it creates a
// storage|copy_src|copy_dst buffer of the requested size.
func (b *backend) allocate(size uint64) (*bufcache.CachedBuffer, error) {
	rawDev, _ := b.dev.Raw()
	buf, err := rawDev.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            "tensorcore-storage",
		Size:             size,
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("tensorcore: allocating storage buffer: %w", err)
	}
	return bufcache.NewCachedBuffer(buf), nil
}

func (b *backend) watchConfig(updates <-chan config.Config) {
	for cfg := range updates {
		b.dev.SetConfig(cfg)
	}
}

func (b *backend) Device() *gpudevice.Device      { return b.dev }
func (b *backend) Queue() *queue.CommandQueue     { return b.q }
func (b *backend) Ops() *ops.Context              { return b.ops }
func (b *backend) Storage() *bufcache.StorageCache { return b.storage }

func (b *backend) EnableStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.monitor == nil {
		b.monitor = stats.NewMonitor(time.Second)
	}
	b.statsEnabled = true
}

func (b *backend) DisableStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statsEnabled = false
}

func (b *backend) SetStatsInterval(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitor = stats.NewMonitor(d)
}

func (b *backend) tickStats() {
	b.mu.Lock()
	enabled, m := b.statsEnabled, b.monitor
	b.mu.Unlock()
	if !enabled || m == nil {
		return
	}
	m.RecordFlush()
	m.Tick(stats.CacheSnapshot{
		UsedMemory:       b.storage.UsedMemory(),
		FreeMemory:       b.storage.FreeMemory(),
		MaxMemoryAllowed: b.storage.MaxMemoryAllowed(),
		BindGroupCount:   b.bindGroups.Len(),
	})
}

func (b *backend) Flush() error {
	err := b.q.Flush()
	b.tickStats()
	return err
}

func (b *backend) FlushAsync(ctx context.Context) error {
	err := b.q.FlushAsync(ctx)
	b.tickStats()
	return err
}

func (b *backend) Synchronize() error {
	err := b.q.Synchronize()
	b.tickStats()
	return err
}

func (b *backend) ReadDataFromGPU(ctx context.Context, ref *bufcache.BufferReference) ([]byte, error) {
	return b.q.ReadDataFromGPU(ctx, ref)
}

func (b *backend) Close() {
	if b.watchCancel != nil {
		b.watchCancel()
	}
	b.dev.Release()
}
