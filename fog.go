package fog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fog/internal/gpu"
	"github.com/gogpu/fog/internal/hotreload"
	"github.com/gogpu/fog/internal/noise"
	"github.com/gogpu/fog/internal/params"
)

// Types shared with the internal packages.
type (
	// SignalPoint is a completion signal: a timeline fence and the value it
	// reaches when the submitted work is done.
	SignalPoint = gpu.SignalPoint

	// Submission is one batch of command buffers with its waits and signal.
	Submission = gpu.Submission

	// ExecutionQueue is the compute-capable queue the fog submits to.
	ExecutionQueue = gpu.ExecutionQueue

	// Grid is the volume size in voxels.
	Grid = gpu.Grid

	// KernelSources holds the WGSL of both stages.
	KernelSources = gpu.KernelSources

	// OutputBinding describes the fog image for the lighting pass.
	OutputBinding = gpu.OutputBinding

	// Parameters are the shader-visible fog settings.
	Parameters = params.Parameters

	// Sphere is one fog shape.
	Sphere = params.Sphere

	// ShapeSet is the fixed-capacity set of fog spheres.
	ShapeSet = params.ShapeSet

	// Store holds the mutable settings and the dirty flag.
	Store = params.Store

	// NoiseVolume is an RGBA8 3D noise texture in host memory.
	NoiseVolume = noise.Volume
)

const (
	// MaxShapes is the number of fog sphere slots.
	MaxShapes = params.MaxShapes

	// DefaultFenceTimeout bounds host waits unless WithFenceTimeout is given.
	DefaultFenceTimeout = gpu.DefaultFenceTimeout
)

// DefaultParameters returns the default fog settings.
func DefaultParameters() Parameters { return params.DefaultParameters() }

// DefaultShapes returns the three default fog spheres.
func DefaultShapes() ShapeSet { return params.DefaultShapes() }

// DefaultKernels returns the embedded WGSL kernels.
func DefaultKernels() KernelSources { return gpu.DefaultKernels() }

// ValidateKernels compiles both kernels with naga.
func ValidateKernels(k KernelSources) error { return gpu.ValidateKernels(k) }

// Fog is one instance of the volumetric fog effect.
//
// Fog is safe for concurrent use, but edits to Store must not race with
// Frame.
type Fog struct {
	pipeline *gpu.Pipeline
	queue    ExecutionQueue
}

// New creates the fog effect on device, submitting to queue. positions is
// the view-space position image of the geometry pass; w = 0 marks sky.
func New(device hal.Device, queue hal.Queue, positions hal.TextureView, opts ...Option) (*Fog, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil device or queue", ErrMisuse)
	}
	return NewWithQueue(device, gpu.NewHALQueue(device, queue), positions, opts...)
}

// NewWithQueue creates the fog effect submitting through q. The host
// renderer may submit its own work through the same ExecutionQueue.
func NewWithQueue(device hal.Device, q ExecutionQueue, positions hal.TextureView, opts ...Option) (*Fog, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if hq, ok := q.(*gpu.HALQueue); ok {
		hq.SetTimeout(o.timeout)
	}

	vol, err := o.loadNoise()
	if err != nil {
		return nil, err
	}

	p, err := gpu.New(device, q, gpu.Config{
		Grid:            o.grid,
		Store:           o.newStore(),
		Noise:           vol,
		Positions:       positions,
		Kernels:         o.kernels,
		ValidateKernels: o.validate,
		Timeout:         o.timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Fog{pipeline: p, queue: q}, nil
}

// NewFromProvider creates the fog effect on the device of a host
// application. The provider must expose its HAL device and queue.
func NewFromProvider(provider gpucontext.DeviceProvider, positions hal.TextureView, opts ...Option) (*Fog, error) {
	device, queue, err := halFromProvider(provider)
	if err != nil {
		return nil, err
	}
	return New(device, queue, positions, opts...)
}

// halFromProvider extracts the HAL device and queue of a provider.
func halFromProvider(provider any) (hal.Device, hal.Queue, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, nil, fmt.Errorf("%w: provider does not expose HAL types", ErrMisuse)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", ErrMisuse)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", ErrMisuse)
	}
	return device, queue, nil
}

func (o *options) newStore() *params.Store {
	p := params.DefaultParameters()
	if o.parameters != nil {
		p = *o.parameters
	}
	if o.cameraSet {
		p.Near, p.Far = o.near, o.far
	}
	p.MapWidth, p.MapHeight, p.MapDepth = o.grid.Width, o.grid.Height, o.grid.Depth

	shapes := params.DefaultShapes()
	if o.shapes != nil {
		shapes = *o.shapes
	}

	s := params.NewStore(p, shapes)
	if o.wind != nil {
		s.SetWind(*o.wind)
	}
	if o.fallOff != nil {
		s.SetFallOffMultiplier(*o.fallOff)
	}
	return s
}

func (o *options) loadNoise() (*noise.Volume, error) {
	var (
		v   *noise.Volume
		err error
	)
	switch {
	case o.noise != nil:
		v = o.noise
	case o.noisePath != "":
		v, err = noise.Load(o.noisePath, o.noiseSlices)
	default:
		v, err = noise.Generate(noise.DefaultSize, o.noiseSeed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceCreation, err)
	}

	if w, h := o.noiseSize[0], o.noiseSize[1]; w > 0 && h > 0 {
		v, err = v.Scale(w, h)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResourceCreation, err)
		}
	}
	return v, nil
}

// Frame advances the noise by dt seconds, uploads pending settings and
// submits both stages. The Density stage waits on every point in wait.
// The returned signal must be reached before the fog image is read.
func (f *Fog) Frame(dt float32, wait ...SignalPoint) (SignalPoint, error) {
	return f.pipeline.Frame(dt, wait...)
}

// Submit is Frame without advancing the noise.
func (f *Fog) Submit(wait ...SignalPoint) (SignalPoint, error) {
	return f.pipeline.Submit(wait...)
}

// Store returns the settings. Edits take effect on the next frame.
func (f *Fog) Store() *Store { return f.pipeline.Store() }

// SetSphere replaces fog sphere i.
func (f *Fog) SetSphere(i int, s Sphere) error {
	if err := f.pipeline.Store().SetSphere(i, s); err != nil {
		return fmt.Errorf("%w: %w", ErrMisuse, err)
	}
	return nil
}

// SetSphereCount sets how many sphere slots are active.
func (f *Fog) SetSphereCount(n int) error {
	if err := f.pipeline.Store().SetSphereCount(n); err != nil {
		return fmt.Errorf("%w: %w", ErrMisuse, err)
	}
	return nil
}

// Queue returns the queue the fog submits to.
func (f *Fog) Queue() ExecutionQueue { return f.queue }

// Grid returns the volume size.
func (f *Fog) Grid() Grid { return f.pipeline.Grid() }

// Frames returns the number of submitted frames.
func (f *Fog) Frames() uint64 { return f.pipeline.Frames() }

// Output returns the fog image.
func (f *Fog) Output() hal.Texture { return f.pipeline.Output() }

// OutputView returns the sampled view of the fog image.
func (f *Fog) OutputView() hal.TextureView { return f.pipeline.OutputView() }

// OutputBinding returns the fog image ready to bind in the lighting pass.
func (f *Fog) OutputBinding() OutputBinding { return f.pipeline.OutputBinding() }

// Kernels returns the kernels in use.
func (f *Fog) Kernels() KernelSources { return f.pipeline.Kernels() }

// Rebuild swaps the kernels after the queue goes idle. On failure the
// previous kernels stay in use.
func (f *Fog) Rebuild(k KernelSources) error { return f.pipeline.Rebuild(k) }

// WatchKernels reloads the kernels whenever density.wgsl or reduction.wgsl
// in dir changes, until ctx is done or stop is called. Kernels that fail to
// compile are logged and skipped. Calling stop again returns the first
// result.
func (f *Fog) WatchKernels(ctx context.Context, dir string) (stop func() error, err error) {
	w, err := hotreload.New(dir, f.pipeline)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	return sync.OnceValue(func() error {
		cancel()
		runErr := <-done
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
		return errors.Join(runErr, w.Close())
	}), nil
}

// Release waits for the GPU to finish with the fog and destroys every
// object it owns. Releasing twice returns ErrMisuse.
func (f *Fog) Release() error {
	return f.pipeline.Release()
}
