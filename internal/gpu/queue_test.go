package gpu

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// fenceStub is a distinct, comparable fence value.
type fenceStub struct {
	hal.Fence
	id int
}

type waitCall struct {
	fence hal.Fence
	value uint64
}

// waitDevice records host waits and hands out fenceStubs.
type waitDevice struct {
	hal.Device
	waits     []waitCall
	reached   bool
	waitErr   error
	fences    int
	destroyed int
}

func (d *waitDevice) Wait(fence hal.Fence, value uint64, _ time.Duration) (bool, error) {
	d.waits = append(d.waits, waitCall{fence, value})
	return d.reached, d.waitErr
}

func (d *waitDevice) CreateFence() (hal.Fence, error) {
	d.fences++
	return &fenceStub{id: 100 + d.fences}, nil
}

func (d *waitDevice) DestroyFence(hal.Fence) { d.destroyed++ }

type submitCall struct {
	buffers int
	fence   hal.Fence
	value   uint64
}

// submitQueue records submissions.
type submitQueue struct {
	hal.Queue
	submits []submitCall
	err     error
}

func (q *submitQueue) Submit(buffers []hal.CommandBuffer, fence hal.Fence, value uint64) error {
	if q.err != nil {
		return q.err
	}
	q.submits = append(q.submits, submitCall{len(buffers), fence, value})
	return nil
}

func TestHALQueueOwnSignalNeedsNoHostWait(t *testing.T) {
	dev := &waitDevice{reached: true}
	hq := &submitQueue{}
	q := NewHALQueue(dev, hq)

	density := SignalPoint{Fence: &fenceStub{id: 1}, Value: 1}
	if err := q.Submit(Submission{Label: "density", Signal: density}); err != nil {
		t.Fatal(err)
	}
	reduction := SignalPoint{Fence: &fenceStub{id: 2}, Value: 1}
	if err := q.Submit(Submission{Label: "reduction", Wait: []SignalPoint{density}, Signal: reduction}); err != nil {
		t.Fatal(err)
	}

	if len(dev.waits) != 0 {
		t.Errorf("host waited %d times on a signal submitted to the same queue", len(dev.waits))
	}
	if len(hq.submits) != 2 || hq.submits[1].fence != reduction.Fence || hq.submits[1].value != 1 {
		t.Errorf("submits = %+v", hq.submits)
	}
}

func TestHALQueueForeignSignalHostWaits(t *testing.T) {
	dev := &waitDevice{reached: true}
	q := NewHALQueue(dev, &submitQueue{})

	geometry := SignalPoint{Fence: &fenceStub{id: 9}, Value: 42}
	if err := q.Submit(Submission{Label: "density", Wait: []SignalPoint{geometry, {}}}); err != nil {
		t.Fatal(err)
	}
	if len(dev.waits) != 1 || dev.waits[0].fence != geometry.Fence || dev.waits[0].value != 42 {
		t.Errorf("waits = %+v, want one wait on the geometry signal", dev.waits)
	}
}

func TestHALQueueLaterValueOfOwnFenceHostWaits(t *testing.T) {
	dev := &waitDevice{reached: true}
	q := NewHALQueue(dev, &submitQueue{})

	f := &fenceStub{id: 1}
	if err := q.Submit(Submission{Signal: SignalPoint{Fence: f, Value: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(Submission{Wait: []SignalPoint{{Fence: f, Value: 2}}}); err != nil {
		t.Fatal(err)
	}
	if len(dev.waits) != 1 {
		t.Errorf("waits = %d, want 1 for a value not yet submitted", len(dev.waits))
	}
}

func TestHALQueueTimeout(t *testing.T) {
	dev := &waitDevice{reached: false}
	q := NewHALQueue(dev, &submitQueue{})
	q.SetTimeout(time.Millisecond)

	err := q.WaitFor(SignalPoint{Fence: &fenceStub{}, Value: 1}, time.Millisecond)
	if !errors.Is(err, ErrSubmission) || !errors.Is(err, ErrTimeout) {
		t.Errorf("WaitFor = %v, want ErrSubmission and ErrTimeout", err)
	}

	err = q.Submit(Submission{Label: "density", Wait: []SignalPoint{{Fence: &fenceStub{}, Value: 1}}})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Submit = %v, want ErrTimeout", err)
	}
}

func TestHALQueueSubmitError(t *testing.T) {
	dev := &waitDevice{reached: true}
	q := NewHALQueue(dev, &submitQueue{err: errInjected})

	err := q.Submit(Submission{Label: "density"})
	if !errors.Is(err, ErrSubmission) || !errors.Is(err, errInjected) {
		t.Errorf("Submit = %v, want ErrSubmission wrapping the cause", err)
	}
}

func TestHALQueueWaitZeroSignal(t *testing.T) {
	dev := &waitDevice{}
	q := NewHALQueue(dev, &submitQueue{})
	if err := q.WaitFor(SignalPoint{}, time.Second); err != nil {
		t.Errorf("WaitFor(zero) = %v", err)
	}
	if len(dev.waits) != 0 {
		t.Error("zero signal caused a device wait")
	}
}

func TestHALQueueWaitIdle(t *testing.T) {
	dev := &waitDevice{reached: true}
	hq := &submitQueue{}
	q := NewHALQueue(dev, hq)

	if err := q.WaitIdle(time.Second); err != nil {
		t.Fatal(err)
	}
	if len(hq.submits) != 1 || hq.submits[0].buffers != 0 || hq.submits[0].value != 1 {
		t.Errorf("idle submission = %+v", hq.submits)
	}
	if dev.fences != 1 || dev.destroyed != 1 {
		t.Errorf("idle fence created %d, destroyed %d", dev.fences, dev.destroyed)
	}
}

func TestHALQueueForget(t *testing.T) {
	dev := &waitDevice{reached: true}
	q := NewHALQueue(dev, &submitQueue{})

	f := &fenceStub{id: 1}
	_ = q.Submit(Submission{Signal: SignalPoint{Fence: f, Value: 3}})
	q.Forget(f)
	_ = q.Submit(Submission{Wait: []SignalPoint{{Fence: f, Value: 3}}})
	if len(dev.waits) != 1 {
		t.Errorf("forgotten fence was still treated as pending: waits = %d", len(dev.waits))
	}
}
