// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// Sequencer orders the two stage batches on the execution queue and chains
// their completion signals.
//
// Each stage owns a timeline fence; the submission for frame n signals
// value n on it. Density waits on the caller's signals, Reduction waits on
// Density's signal for the same frame, and the Reduction signal is handed
// back to the caller.
//
// Sequencer is not safe for concurrent use; Pipeline serializes access.
type Sequencer struct {
	queue  ExecutionQueue
	stages [stageCount]*stageContext
	fences [stageCount]hal.Fence

	frame   uint64
	last    [stageCount]SignalPoint
	prelude []hal.CommandBuffer
}

func newSequencer(queue ExecutionQueue, fences [stageCount]hal.Fence) *Sequencer {
	return &Sequencer{queue: queue, fences: fences}
}

// bind installs the stage contexts whose batches are submitted. It is
// called at construction and after every rebuild.
func (s *Sequencer) bind(stages [stageCount]*stageContext) {
	s.stages = stages
}

// setPrelude queues buffers that run ahead of the next Density batch, in
// the same submission. They are submitted once.
func (s *Sequencer) setPrelude(bufs ...hal.CommandBuffer) {
	s.prelude = bufs
}

// Frame returns the number of frames whose Density batch was submitted.
func (s *Sequencer) Frame() uint64 { return s.frame }

// Last returns the most recent signal submitted for role.
func (s *Sequencer) Last(role StageRole) SignalPoint { return s.last[role] }

// Submit enqueues one frame: Density then Reduction, exactly two
// submissions in that order. Zero signals in wait are ignored. It returns
// the Reduction completion signal, which the composition pass must wait on
// before sampling the output.
//
// If the Density submission fails the frame counter does not advance. If
// only the Reduction submission fails, the frame is consumed so the density
// fence value is never reused.
func (s *Sequencer) Submit(wait ...SignalPoint) (SignalPoint, error) {
	for _, sc := range s.stages {
		if sc == nil {
			return SignalPoint{}, fmt.Errorf("%w: submit before stages are bound", ErrMisuse)
		}
	}

	next := s.frame + 1
	density := SignalPoint{Fence: s.fences[StageDensity], Value: next}
	reduction := SignalPoint{Fence: s.fences[StageReduction], Value: next}

	var external []SignalPoint
	for _, w := range wait {
		if !w.IsZero() {
			external = append(external, w)
		}
	}

	buffers := append(append([]hal.CommandBuffer(nil), s.prelude...), s.stages[StageDensity].batch)
	err := s.queue.Submit(Submission{
		Label:   "fog_density",
		Buffers: buffers,
		Wait:    external,
		Signal:  density,
	})
	if err != nil {
		return SignalPoint{}, classifySubmit(StageDensity, err)
	}
	s.frame = next
	s.last[StageDensity] = density
	s.prelude = nil

	err = s.queue.Submit(Submission{
		Label:   "fog_reduction",
		Buffers: []hal.CommandBuffer{s.stages[StageReduction].batch},
		Wait:    []SignalPoint{density},
		Signal:  reduction,
	})
	if err != nil {
		return SignalPoint{}, classifySubmit(StageReduction, err)
	}
	s.last[StageReduction] = reduction

	slogger().Debug("gpu: frame submitted", "frame", next, "external_waits", len(external))
	return reduction, nil
}

// drain blocks until the last submitted signal of both stages is reached.
func (s *Sequencer) drain(timeout time.Duration) error {
	var errs []error
	for _, role := range StageRoles() {
		if err := s.queue.WaitFor(s.last[role], timeout); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

func classifySubmit(role StageRole, err error) error {
	if errors.Is(err, ErrSubmission) {
		return fmt.Errorf("%s: %w", role, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrSubmission, role, err)
}
