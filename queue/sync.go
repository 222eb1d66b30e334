package queue

import (
	"context"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/dtype"
)

// Synchronize flushes any pending dispatches and blocks until the device
// has finished executing everything submitted so far, via a 4-byte
// staging-probe copy-and-map round trip from the last flushed batch's
// destination buffer. It is a no-op if nothing was pending and nothing
// had previously been flushed.
func (q *CommandQueue) Synchronize() error {
	if err := q.Flush(); err != nil {
		return err
	}

	q.mu.Lock()
	dest := q.lastFlushedDest
	q.mu.Unlock()
	if dest == nil {
		return nil
	}

	return q.waitForStagingProbe()
}

// waitForStagingProbe maps the 4-byte staging-probe buffer (already
// populated by the most recent getCommandBuffer's trailing copy) and
// blocks until the map completes, then immediately unmaps it — the
// buffer's contents are never read; only the completion signal matters.
func (q *CommandQueue) waitForStagingProbe() error {
	done := make(chan error, 1)
	q.stagingProbe.MapAsync(wgpu.MapModeRead, 0, 4, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("queue: staging probe map failed with status %v", status)
			return
		}
		done <- nil
	})

	for {
		q.dev.Poll(true)
		select {
		case err := <-done:
			q.stagingProbe.Unmap()
			return err
		default:
		}
	}
}

// ReadDataFromGPU flushes any pending dispatches touching ref, then
// copies its backing storage to a staging buffer, maps it, and returns a
// host-side copy of its raw bytes.
func (q *CommandQueue) ReadDataFromGPU(ctx context.Context, ref *bufcache.BufferReference) ([]byte, error) {
	if err := q.Flush(); err != nil {
		return nil, err
	}

	storage := ref.Storage()
	if storage == nil {
		return nil, fmt.Errorf("queue: buffer reference %d has no backing storage", ref.ID())
	}
	src := rawBuffer(storage)
	size := storage.Size()

	rawDev, rawQueue := q.dev.Raw()
	_ = rawQueue

	staging, err := rawDev.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            "tensorcore-readback-staging",
		Size:             size,
		Usage:            wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: allocating staging buffer: %w", err)
	}
	defer staging.Release()

	encoder, err := rawDev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "tensorcore-readback"})
	if err != nil {
		return nil, fmt.Errorf("queue: creating readback encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("queue: finishing readback command buffer: %w", err)
	}
	_, submitQueue := q.dev.Raw()
	submitQueue.Submit(cmd)

	done := make(chan error, 1)
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("queue: readback map failed with status %v", status)
			return
		}
		done <- nil
	})

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		q.dev.Poll(true)
		select {
		case err := <-done:
			if err != nil {
				return nil, err
			}
			mapped := staging.GetMappedRange(0, uint32(size))
			out := append([]byte(nil), mapped...)
			staging.Unmap()
			return out, nil
		default:
		}
	}
}

// readElemCount is a convenience for callers that already know ref's
// dtype and want a count of logical elements in the returned byte slice.
func readElemCount(data []byte, dt dtype.DType) int {
	w := dt.Size()
	if w == 0 {
		return 0
	}
	return len(data) / int(w)
}
