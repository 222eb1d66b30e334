package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"golang.org/x/sync/errgroup"

	"github.com/oxy-gpu/tensorcore/bufcache"
)

// getCommandBuffer uploads b's packed meta bytes and records one command
// buffer containing every non-elided dispatch in b, each bound at its
// own 256-byte-aligned dynamic offset into the shared meta buffer.
// When the batch has a non-elided dispatch, the recorded buffer ends
// with a 4-byte copy from the last such dispatch's destination into the
// staging probe for completion signaling; that destination is returned
// as lastDest (nil otherwise).
func (q *CommandQueue) getCommandBuffer(b *batch) (*wgpu.CommandBuffer, *wgpu.Buffer, error) {
	rawDev, rawQueue := q.dev.Raw()

	if len(b.metaBytes) > 0 {
		rawQueue.WriteBuffer(q.metaBuffer, 0, b.metaBytes)
	}

	encoder, err := rawDev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "tensorcore-flush"})
	if err != nil {
		return nil, nil, fmt.Errorf("queue: creating command encoder: %w", err)
	}

	pass, err := encoder.BeginComputePass(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("queue: beginning compute pass: %w", err)
	}

	var lastDest *wgpu.Buffer
	for _, d := range b.dispatches {
		if d.elided {
			continue
		}
		pipeline, err := q.dev.GetPipeline(d.Pipeline, d.Shader)
		if err != nil {
			return nil, nil, err
		}
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, d.boundBindGroup.group, []uint32{d.metaOffset * 4})
		pass.DispatchWorkgroups(d.WorkgroupX, d.WorkgroupY, d.WorkgroupZ)
		lastDest = rawBuffer(d.Dest.Storage())
	}
	pass.End()

	if lastDest != nil {
		encoder.CopyBufferToBuffer(lastDest, 0, q.stagingProbe, 0, 4)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("queue: finishing command buffer: %w", err)
	}
	return cmd, lastDest, nil
}

// Flush blocks until every currently queued dispatch has been submitted
// and the device has finished executing it. An empty queue is a no-op:
// it neither allocates nor submits anything.
func (q *CommandQueue) Flush() error {
	q.bindGroups.MarkIdle()
	for q.Pending() > 0 {
		q.prepare()
		b, err := q.setBuffers()
		if err != nil {
			return err
		}
		if len(b.dispatches) == 0 {
			break
		}

		cmd, lastDest, err := q.getCommandBuffer(b)
		if err != nil {
			return err
		}
		_, rawQueue := q.dev.Raw()
		rawQueue.Submit(cmd)
		q.dev.Poll(true)

		// Capture the batch's last destination buffer even though this
		// blocking path already waited for the device: Synchronize needs
		// to know what to probe without forcing a second flush, which the
		// original's blocking path leaves commented out and loses.
		if lastDest != nil {
			q.mu.Lock()
			q.lastFlushedDest = lastDest
			q.mu.Unlock()
		}
	}
	q.drainCaches()
	return nil
}

// FlushAsync behaves like Flush but suspends the calling goroutine
// (rather than blocking the whole process on Device.Poll) between
// submission and completion: one goroutine polls the device on a short
// tick while the caller's goroutine waits on either that poll loop
// reporting done or ctx being cancelled, matching the suspension points
// the original's async flush path awaits on a one-shot completion
// channel plus device.poll.
func (q *CommandQueue) FlushAsync(ctx context.Context) error {
	q.bindGroups.MarkIdle()
	for q.Pending() > 0 {
		q.prepare()
		b, err := q.setBuffers()
		if err != nil {
			return err
		}
		if len(b.dispatches) == 0 {
			break
		}

		cmd, _, err := q.getCommandBuffer(b)
		if err != nil {
			return err
		}
		_, rawQueue := q.dev.Raw()
		rawQueue.Submit(cmd)

		if err := q.awaitDeviceIdle(ctx); err != nil {
			return err
		}
	}
	q.drainCaches()
	return nil
}

// awaitDeviceIdle polls the device on a short interval in one goroutine
// while another watches ctx, stopping as soon as either the device
// reports no more pending work or the context is cancelled.
func (q *CommandQueue) awaitDeviceIdle(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(500 * time.Microsecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if q.dev.Poll(false) {
					return nil
				}
			}
		}
	})
	return g.Wait()
}

// drainCaches releases idle pooled storage and bind groups once a flush
// loop's batches have all been submitted, trading back driver memory for
// headroom. Bind groups not re-touched (via GetOrCreate) since this
// round's opening MarkIdle call are the ones evicted here.
func (q *CommandQueue) drainCaches() {
	q.bindGroups.RemoveUnused()
	q.storage.RemoveUnused(func(c *bufcache.CachedBuffer) {
		if buf := rawBuffer(c); buf != nil {
			buf.Release()
		}
	})
}
