package queue

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/oxy-gpu/tensorcore/bindgroup"
	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
)

// CommandQueue accumulates Dispatch records between flushes. A single
// mutex guards the dispatch list and planning state; the storage cache
// has its own mutex, briefly released inside set_buffers when a
// BufferReference's last strong reference is dropped, so releasing a
// buffer's storage never re-enters CommandQueue while its own lock is
// held.
type CommandQueue struct {
	mu sync.Mutex

	dev        *gpudevice.Device
	storage    *bufcache.StorageCache
	bindGroups *bindgroup.Cache

	dispatches []*Dispatch
	startIndex int

	nextBufferID uint64

	metaBuffer       *wgpu.Buffer
	stagingProbe     *wgpu.Buffer
	lastMetaCapacity uint32
	lastFlushedDest  *wgpu.Buffer
}

// New creates an empty command queue against dev, pooling storage
// through storage and bind groups through bindGroups, and allocates the
// shared meta and staging-probe buffers sized per dev's current config.
func New(dev *gpudevice.Device, storage *bufcache.StorageCache, bindGroups *bindgroup.Cache) (*CommandQueue, error) {
	q := &CommandQueue{
		dev:        dev,
		storage:    storage,
		bindGroups: bindGroups,
	}
	if err := q.ensureMetaBuffer(); err != nil {
		return nil, err
	}
	return q, nil
}

// ensureMetaBuffer (re)allocates the shared meta/uniform buffer and the
// 4-byte staging-probe buffer used to signal async-flush completion, if
// the configured meta buffer size has grown since the last allocation.
func (q *CommandQueue) ensureMetaBuffer() error {
	cfg := q.dev.Config()
	if q.metaBuffer != nil && q.lastMetaCapacity >= cfg.MetaBufferSize {
		return nil
	}
	rawDev, _ := q.dev.Raw()

	if q.metaBuffer != nil {
		q.metaBuffer.Release()
	}
	mb, err := rawDev.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            "tensorcore-meta",
		Size:             uint64(cfg.MetaBufferSize),
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return fmt.Errorf("queue: allocating meta buffer: %w", err)
	}
	q.metaBuffer = mb
	q.lastMetaCapacity = cfg.MetaBufferSize

	if q.stagingProbe == nil {
		sp, err := rawDev.CreateBuffer(&wgpu.BufferDescriptor{
			Label:            "tensorcore-staging-probe",
			Size:             4,
			Usage:            wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
			MappedAtCreation: false,
		})
		if err != nil {
			return fmt.Errorf("queue: allocating staging probe buffer: %w", err)
		}
		q.stagingProbe = sp
	}
	return nil
}

func (q *CommandQueue) metaBufferHandle() *wgpu.Buffer {
	return q.metaBuffer
}

// Enqueue appends a fully-formed Dispatch to the queue. Op encoders call
// this once they have built the Dispatch's meta, pipeline key, and
// buffer references; nothing about it touches the driver until Flush.
func (q *CommandQueue) Enqueue(d *Dispatch) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatches = append(q.dispatches, d)
}

// NextBufferID returns a fresh, queue-unique logical buffer identity,
// used by op encoders allocating a new BufferReference for an
// operation's output.
func (q *CommandQueue) NextBufferID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextBufferID++
	return q.nextBufferID
}

// Pending reports how many dispatches are queued but not yet flushed.
func (q *CommandQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dispatches) - q.startIndex
}

// Storage returns the buffer storage cache backing this queue.
func (q *CommandQueue) Storage() *bufcache.StorageCache { return q.storage }
