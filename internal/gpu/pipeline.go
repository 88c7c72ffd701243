// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fog/internal/noise"
	"github.com/gogpu/fog/internal/params"
)

// Config describes a fog pipeline.
type Config struct {
	// Grid is the volume size in voxels. It also sizes the output image.
	Grid Grid

	// Store holds the parameters and shapes. Its grid dimensions are
	// overwritten by Grid when they disagree, once New has succeeded; a
	// failed New leaves it untouched.
	Store *params.Store

	// Noise is uploaded once into the 3D noise texture.
	Noise *noise.Volume

	// Positions is the view-space position image of the geometry pass.
	// Its format must be filterable; it is sampled with a nearest sampler.
	Positions hal.TextureView

	// Kernels overrides the embedded WGSL. Empty fields use the default.
	Kernels KernelSources

	// ValidateKernels compiles both kernels with naga before any GPU
	// object is created.
	ValidateKernels bool

	// Timeout bounds every host-side wait. Zero means DefaultFenceTimeout.
	Timeout time.Duration
}

// Pipeline is the two-stage fog pipeline: resource set, stage contexts,
// completion fences and the sequencer that orders them.
//
// Pipeline is safe for concurrent use; calls are serialized.
type Pipeline struct {
	mu sync.Mutex

	device hal.Device
	queue  ExecutionQueue
	store  *params.Store

	res     *resourceSet
	stages  [stageCount]*stageContext
	signals *scope
	seq     *Sequencer

	kernels  KernelSources
	timeout  time.Duration
	released bool
}

// fenceForgetter is implemented by queues that keep per-fence bookkeeping.
type fenceForgetter interface {
	Forget(fence hal.Fence)
}

// New allocates every resource, builds both stages and records their
// batches. On failure nothing it created survives.
func New(device hal.Device, queue ExecutionQueue, cfg Config) (*Pipeline, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: device is nil", ErrMisuse)
	}
	if queue == nil {
		return nil, fmt.Errorf("%w: queue is nil", ErrMisuse)
	}
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: parameter store is nil", ErrMisuse)
	}

	kernels := withDefaults(cfg.Kernels)
	if cfg.ValidateKernels {
		if err := ValidateKernels(kernels); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResourceCreation, err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFenceTimeout
	}

	store := syncGrid(cfg.Store, cfg.Grid)

	p := &Pipeline{
		device:  device,
		queue:   queue,
		store:   store,
		kernels: kernels,
		timeout: timeout,
		signals: newScope("fog_signals"),
	}

	var err error
	p.res, err = newResourceSet(device, queue, resourceConfig{
		Grid:      cfg.Grid,
		Noise:     cfg.Noise,
		Positions: cfg.Positions,
		Store:     store,
	})
	if err != nil {
		return nil, err
	}

	p.stages, err = p.buildStages(kernels)
	if err != nil {
		_ = p.res.release()
		return nil, err
	}

	var fences [stageCount]hal.Fence
	for _, role := range StageRoles() {
		fences[role], err = acquire(p.signals, "fog_"+role.String()+"_fence", device.CreateFence, p.destroyFence)
		if err != nil {
			_ = p.signals.close()
			releaseStages(p.stages)
			_ = p.res.release()
			return nil, err
		}
	}

	p.seq = newSequencer(queue, fences)
	p.seq.bind(p.stages)
	p.seq.setPrelude(p.res.layoutInit)

	if store != cfg.Store {
		*cfg.Store = *store
		p.store = cfg.Store
	}

	slogger().Info("gpu: fog pipeline created",
		"grid", cfg.Grid.String(),
		"objects", p.liveLocked())
	return p, nil
}

// syncGrid returns a store whose grid dimensions match g: s itself when
// they already do, otherwise a copy with the same state. Edit cannot change
// the dimensions, so the copy is built from scratch. s is not modified.
func syncGrid(s *params.Store, g Grid) *params.Store {
	p := s.Parameters()
	if p.MapWidth == g.Width && p.MapHeight == g.Height && p.MapDepth == g.Depth {
		return s
	}
	p.MapWidth, p.MapHeight, p.MapDepth = g.Width, g.Height, g.Depth
	fresh := params.NewStore(p, s.Shapes())
	fresh.SetWind(s.Wind())
	fresh.SetFallOffMultiplier(s.FallOffMultiplier())
	return fresh
}

func withDefaults(k KernelSources) KernelSources {
	def := DefaultKernels()
	for _, role := range StageRoles() {
		if k.For(role) == "" {
			k = k.With(role, def.For(role))
		}
	}
	return k
}

func (p *Pipeline) buildStages(k KernelSources) ([stageCount]*stageContext, error) {
	var stages [stageCount]*stageContext
	for _, role := range StageRoles() {
		sc, err := newStageContext(p.device, role, k.For(role), p.res)
		if err != nil {
			releaseStages(stages)
			return [stageCount]*stageContext{}, err
		}
		stages[role] = sc
	}
	return stages, nil
}

// releaseStages releases the stages that exist, Reduction first.
func releaseStages(stages [stageCount]*stageContext) {
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i] != nil {
			_ = stages[i].release()
		}
	}
}

func (p *Pipeline) destroyFence(f hal.Fence) {
	if ff, ok := p.queue.(fenceForgetter); ok {
		ff.Forget(f)
	}
	p.device.DestroyFence(f)
}

// Frame advances the noise by dt seconds, uploads pending settings and
// submits one frame. See Submit.
func (p *Pipeline) Frame(dt float32, wait ...SignalPoint) (SignalPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return SignalPoint{}, fmt.Errorf("%w: frame after release", ErrMisuse)
	}
	p.store.Update(dt)
	return p.submitLocked(wait)
}

// Submit uploads pending settings and submits one frame without advancing
// the noise. The returned signal must be waited on before the output image
// is sampled.
func (p *Pipeline) Submit(wait ...SignalPoint) (SignalPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return SignalPoint{}, fmt.Errorf("%w: submit after release", ErrMisuse)
	}
	return p.submitLocked(wait)
}

func (p *Pipeline) submitLocked(wait []SignalPoint) (SignalPoint, error) {
	if p.store.Dirty() {
		// The previous frame may still read the uniform buffers.
		if err := p.queue.WaitFor(p.seq.Last(StageReduction), p.timeout); err != nil {
			return SignalPoint{}, fmt.Errorf("wait for previous frame: %w", err)
		}
		if err := p.store.Upload(p.res); err != nil {
			return SignalPoint{}, fmt.Errorf("upload settings: %w", err)
		}
	}
	return p.seq.Submit(wait...)
}

// Rebuild replaces the kernels and re-records both batches after the queue
// goes idle. Empty sources use the embedded default. When building fails
// the previous stages stay in use.
func (p *Pipeline) Rebuild(k KernelSources) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return fmt.Errorf("%w: rebuild after release", ErrMisuse)
	}

	k = withDefaults(k)
	if err := p.queue.WaitIdle(p.timeout); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	stages, err := p.buildStages(k)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	releaseStages(p.stages)
	p.stages = stages
	p.kernels = k
	p.seq.bind(stages)

	slogger().Info("gpu: fog kernels rebuilt", "frame", p.seq.Frame())
	return nil
}

// Release waits for the queue to go idle and for the last signal of both
// stages, then destroys everything: signals, Reduction, Density, resources.
// If a wait fails nothing is destroyed and Release may be retried.
// Releasing twice returns ErrMisuse.
func (p *Pipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return fmt.Errorf("%w: pipeline released twice", ErrMisuse)
	}

	if err := p.queue.WaitIdle(p.timeout); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if err := p.seq.drain(p.timeout); err != nil {
		return fmt.Errorf("release: %w", err)
	}

	p.released = true
	frames := p.seq.Frame()

	var errs []error
	errs = append(errs, p.signals.close())
	for i := len(p.stages) - 1; i >= 0; i-- {
		errs = append(errs, p.stages[i].release())
	}
	errs = append(errs, p.res.release())

	slogger().Info("gpu: fog pipeline released", "frames", frames)
	return errors.Join(errs...)
}

// Released reports whether Release has completed.
func (p *Pipeline) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Store returns the parameter store. The caller owns edits to it between
// frames.
func (p *Pipeline) Store() *params.Store { return p.store }

// Grid returns the volume size.
func (p *Pipeline) Grid() Grid { return p.res.grid }

// Kernels returns the kernel sources in use.
func (p *Pipeline) Kernels() KernelSources {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kernels
}

// Frames returns the number of submitted frames.
func (p *Pipeline) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq.Frame()
}

// LastSignal returns the completion signal of the most recent frame.
func (p *Pipeline) LastSignal() SignalPoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq.Last(StageReduction)
}

// LiveObjects returns the number of GPU objects the pipeline owns.
func (p *Pipeline) LiveObjects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return 0
	}
	return p.liveLocked()
}

func (p *Pipeline) liveLocked() int {
	n := p.res.scope.live() + p.signals.live()
	for _, sc := range p.stages {
		n += sc.scope.live()
	}
	return n
}

// Output returns the 2D fog image.
func (p *Pipeline) Output() hal.Texture { return p.res.output }

// OutputView returns the sampled view of the fog image.
func (p *Pipeline) OutputView() hal.TextureView { return p.res.outputSampledView }

// OutputBinding returns the binding-ready description of the fog image for
// the lighting pass.
func (p *Pipeline) OutputBinding() OutputBinding {
	return OutputBinding{
		Texture:     p.res.output,
		StorageView: p.res.outputStorageView,
		SampledView: p.res.outputSampledView,
		Format:      fogTextureFormat,
		Width:       p.res.grid.Width,
		Height:      p.res.grid.Height,
	}
}

// OutputBinding describes the fog image for a fragment-stage consumer.
// The consumer must wait on the frame's completion signal before reading.
//
// When that signal is reached the image is in TextureBinding usage, ready
// for SampledEntries. A consumer binding StorageEntries owns the transition
// to StorageBinding, and must return the image to TextureBinding before it
// submits the next fog frame.
type OutputBinding struct {
	Texture     hal.Texture
	StorageView hal.TextureView
	SampledView hal.TextureView
	Format      gputypes.TextureFormat

	Width, Height uint32
}

// StorageEntries returns the layout entry and bind group entry binding the
// fog image as a storage image visible to the fragment stage.
func (b OutputBinding) StorageEntries(binding uint32) (gputypes.BindGroupLayoutEntry, gputypes.BindGroupEntry) {
	layout := gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageFragment,
		StorageTexture: &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessReadWrite,
			Format:        b.Format,
			ViewDimension: gputypes.TextureViewDimension2D,
		},
	}
	entry := gputypes.BindGroupEntry{
		Binding:  binding,
		Resource: gputypes.TextureViewBinding{TextureView: b.StorageView.NativeHandle()},
	}
	return layout, entry
}

// SampledEntries returns the layout entry and bind group entry binding the
// fog image as a sampled texture visible to the fragment stage.
func (b OutputBinding) SampledEntries(binding uint32) (gputypes.BindGroupLayoutEntry, gputypes.BindGroupEntry) {
	layout := gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageFragment,
		Texture: &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		},
	}
	entry := gputypes.BindGroupEntry{
		Binding:  binding,
		Resource: gputypes.TextureViewBinding{TextureView: b.SampledView.NativeHandle()},
	}
	return layout, entry
}
