// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// DefaultFenceTimeout is how long host-side waits block before failing.
const DefaultFenceTimeout = 5 * time.Second

// SignalPoint is a completion signal: the point at which a timeline fence
// reaches Value. The zero SignalPoint means "no signal".
type SignalPoint struct {
	Fence hal.Fence
	Value uint64
}

// IsZero reports whether p carries no signal.
func (p SignalPoint) IsZero() bool { return p.Fence == nil }

// Submission is one queue submission: command buffers that execute after
// every Wait point is reached and that reach Signal on completion.
type Submission struct {
	Label   string
	Buffers []hal.CommandBuffer
	Wait    []SignalPoint
	Signal  SignalPoint
}

// ExecutionQueue is the compute-capable queue the fog pipeline submits to.
// The geometry pass of the host renderer may submit through the same
// queue to obtain a SignalPoint the fog can wait on.
type ExecutionQueue interface {
	// Submit enqueues s and returns without waiting for execution.
	Submit(s Submission) error

	// WaitFor blocks the calling goroutine until p is reached.
	WaitFor(p SignalPoint, timeout time.Duration) error

	// WaitIdle blocks until every submitted batch has completed.
	WaitIdle(timeout time.Duration) error

	// WriteBuffer copies data into buf, ordered before later submissions.
	WriteBuffer(buf hal.Buffer, offset uint64, data []byte)

	// WriteTexture copies data into a texture, ordered before later submissions.
	WriteTexture(dst *hal.ImageCopyTexture, data []byte, layout *hal.ImageDataLayout, size *hal.Extent3D)
}

// HALQueue adapts a hal.Queue to ExecutionQueue.
//
// hal.Queue submissions only signal; they cannot wait. HALQueue therefore
// satisfies a wait on a signal it submitted itself through submission order
// on the single queue (the consumer records the matching barrier in its
// batch) and a wait on any other signal with a host wait before submitting.
type HALQueue struct {
	device hal.Device
	queue  hal.Queue

	mu      sync.Mutex
	pending map[hal.Fence]uint64 // highest value submitted per fence
	timeout time.Duration
}

// NewHALQueue wraps queue. Fences passed in submissions must come from device.
func NewHALQueue(device hal.Device, queue hal.Queue) *HALQueue {
	return &HALQueue{
		device:  device,
		queue:   queue,
		pending: make(map[hal.Fence]uint64),
		timeout: DefaultFenceTimeout,
	}
}

// SetTimeout sets the host wait used for foreign signals.
func (q *HALQueue) SetTimeout(d time.Duration) {
	q.mu.Lock()
	q.timeout = d
	q.mu.Unlock()
}

// Submit implements ExecutionQueue.
func (q *HALQueue) Submit(s Submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range s.Wait {
		if w.IsZero() {
			continue
		}
		if v, ok := q.pending[w.Fence]; ok && v >= w.Value {
			// Submitted earlier on this queue: ordering covers it.
			continue
		}
		if err := q.waitLocked(w, q.timeout); err != nil {
			return fmt.Errorf("%s: wait on external signal: %w", s.Label, err)
		}
	}

	if err := q.queue.Submit(s.Buffers, s.Signal.Fence, s.Signal.Value); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubmission, s.Label, err)
	}
	if !s.Signal.IsZero() && s.Signal.Value > q.pending[s.Signal.Fence] {
		q.pending[s.Signal.Fence] = s.Signal.Value
	}
	return nil
}

// WaitFor implements ExecutionQueue.
func (q *HALQueue) WaitFor(p SignalPoint, timeout time.Duration) error {
	if p.IsZero() {
		return nil
	}
	return q.waitLocked(p, timeout)
}

func (q *HALQueue) waitLocked(p SignalPoint, timeout time.Duration) error {
	ok, err := q.device.Wait(p.Fence, p.Value, timeout)
	if err != nil {
		return fmt.Errorf("%w: wait for fence value %d: %w", ErrSubmission, p.Value, err)
	}
	if !ok {
		return fmt.Errorf("%w: %w after %v (value %d)", ErrSubmission, ErrTimeout, timeout, p.Value)
	}
	return nil
}

// WaitIdle implements ExecutionQueue by submitting an empty batch behind
// everything already queued and waiting for it.
func (q *HALQueue) WaitIdle(timeout time.Duration) error {
	fence, err := q.device.CreateFence()
	if err != nil {
		return fmt.Errorf("%w: create idle fence: %w", ErrSubmission, err)
	}
	defer q.device.DestroyFence(fence)

	q.mu.Lock()
	err = q.queue.Submit(nil, fence, 1)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: idle submit: %w", ErrSubmission, err)
	}
	return q.waitLocked(SignalPoint{Fence: fence, Value: 1}, timeout)
}

// Forget drops the bookkeeping for fence. Call it before destroying a
// fence that was used in submissions.
func (q *HALQueue) Forget(fence hal.Fence) {
	q.mu.Lock()
	delete(q.pending, fence)
	q.mu.Unlock()
}

// WriteBuffer implements ExecutionQueue.
func (q *HALQueue) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) {
	q.queue.WriteBuffer(buf, offset, data)
}

// WriteTexture implements ExecutionQueue.
func (q *HALQueue) WriteTexture(dst *hal.ImageCopyTexture, data []byte, layout *hal.ImageDataLayout, size *hal.Extent3D) {
	q.queue.WriteTexture(dst, data, layout, size)
}
