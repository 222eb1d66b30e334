// Package stats tracks dispatch throughput and cache effectiveness and
// logs a summary at a configurable interval, mirroring the way the
// original engine profiled frame timing.
package stats

import (
	"log"
	"time"
)

// Counters tracks event totals a Monitor is fed between ticks.
type Counters struct {
	DispatchCount      int
	InPlaceRewriteCount int
	CopyElisionCount   int
	WorkloadSplitCount int
	FlushCount         int
}

// Monitor accumulates Counters and logs a rate-normalized summary once
// per updateInterval, along with live cache occupancy figures supplied
// at Tick time.
type Monitor struct {
	counters       Counters
	lastTime       time.Time
	updateInterval time.Duration
}

// NewMonitor creates a Monitor with the given log interval. A zero
// interval defaults to one second.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		lastTime:       time.Now(),
		updateInterval: interval,
	}
}

// RecordDispatch increments the queued-dispatch count.
func (m *Monitor) RecordDispatch() { m.counters.DispatchCount++ }

// RecordInPlaceRewrite increments the in-place-rewrite count.
func (m *Monitor) RecordInPlaceRewrite() { m.counters.InPlaceRewriteCount++ }

// RecordCopyElision increments the copy-elision count.
func (m *Monitor) RecordCopyElision() { m.counters.CopyElisionCount++ }

// RecordWorkloadSplit increments the workload-split count.
func (m *Monitor) RecordWorkloadSplit() { m.counters.WorkloadSplitCount++ }

// RecordFlush increments the flush count.
func (m *Monitor) RecordFlush() { m.counters.FlushCount++ }

// CacheSnapshot is the live cache/budget state reported alongside the
// accumulated Counters at each logged tick.
type CacheSnapshot struct {
	UsedMemory       uint64
	FreeMemory       uint64
	MaxMemoryAllowed uint64
	BindGroupCount   int
}

// Tick should be called once per flush (or once per frame, in a tighter
// loop) with the current cache state. It logs and resets the
// accumulated counters once updateInterval has elapsed, reporting
// whether it did so.
func (m *Monitor) Tick(snap CacheSnapshot) bool {
	now := time.Now()
	elapsed := now.Sub(m.lastTime)
	if elapsed < m.updateInterval {
		return false
	}

	seconds := elapsed.Seconds()
	dispatchRate := float64(m.counters.DispatchCount) / seconds
	flushRate := float64(m.counters.FlushCount) / seconds

	usedMB := float64(snap.UsedMemory) / 1024 / 1024
	freeMB := float64(snap.FreeMemory) / 1024 / 1024
	budgetMB := float64(snap.MaxMemoryAllowed) / 1024 / 1024

	log.Printf("[tensorcore] dispatches/s: %.1f | flushes/s: %.1f | in-place: %d | elided copies: %d | splits: %d | bind groups: %d | used: %.2f MB | free: %.2f MB | budget: %.2f MB",
		dispatchRate, flushRate, m.counters.InPlaceRewriteCount, m.counters.CopyElisionCount, m.counters.WorkloadSplitCount, snap.BindGroupCount, usedMB, freeMB, budgetMB)

	m.counters = Counters{}
	m.lastTime = now
	return true
}
