package fog

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/fog/internal/gpu"
	"github.com/gogpu/fog/internal/noise"
	"github.com/gogpu/fog/internal/params"
)

// Option configures a Fog during creation.
//
// Example:
//
//	f, err := fog.New(device, queue, positions,
//	    fog.WithGrid(320, 180, 256),
//	    fog.WithCamera(0.1, 50),
//	    fog.WithWind(mgl32.Vec3{1, 0, 0}),
//	)
type Option func(*options)

// options holds the configuration collected from Options.
type options struct {
	grid       gpu.Grid
	near, far  float32
	cameraSet  bool
	parameters *params.Parameters
	shapes     *params.ShapeSet
	wind       *mgl32.Vec3
	fallOff    *float32

	noise       *noise.Volume
	noisePath   string
	noiseSlices int
	noiseSeed   uint64
	noiseSize   [2]uint32

	kernels  gpu.KernelSources
	validate bool
	timeout  time.Duration
}

func defaultOptions() options {
	p := params.DefaultParameters()
	return options{
		grid:      gpu.Grid{Width: p.MapWidth, Height: p.MapHeight, Depth: p.MapDepth},
		noiseSeed: 1,
		timeout:   gpu.DefaultFenceTimeout,
	}
}

// ResolveGrid returns the volume size opts select. Hosts use it to size the
// position image before calling New.
func ResolveGrid(opts ...Option) Grid {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o.grid
}

// WithGrid sets the volume size in voxels. Width and height also size the
// fog image; they normally match the position image. Default 640x360x512.
func WithGrid(width, height, depth uint32) Option {
	return func(o *options) {
		o.grid = gpu.Grid{Width: width, Height: height, Depth: depth}
	}
}

// WithCamera sets the near and far plane distances the volume spans. They
// are sampled once; later camera changes need a new Fog.
func WithCamera(near, far float32) Option {
	return func(o *options) {
		o.near, o.far = near, far
		o.cameraSet = true
	}
}

// WithParameters replaces the default parameters. The grid and camera
// options still take precedence over the grid and near/far fields of p.
func WithParameters(p Parameters) Option {
	return func(o *options) {
		o.parameters = &p
	}
}

// WithShapes replaces the default fog spheres.
func WithShapes(s ShapeSet) Option {
	return func(o *options) {
		o.shapes = &s
	}
}

// WithWind sets the noise scroll speed in units per second.
func WithWind(v mgl32.Vec3) Option {
	return func(o *options) {
		o.wind = &v
	}
}

// WithFallOffMultiplier sets the UI-facing step fall-off multiplier. The
// shader receives multiplier / 100.
func WithFallOffMultiplier(m float32) Option {
	return func(o *options) {
		o.fallOff = &m
	}
}

// WithNoise uses v as the noise volume instead of the generated default.
func WithNoise(v *NoiseVolume) Option {
	return func(o *options) {
		o.noise = v
	}
}

// WithNoiseFile loads the noise volume from an image of stacked depth
// slices. slices <= 0 means square slices. PNG, BMP and TIFF are accepted.
func WithNoiseFile(path string, slices int) Option {
	return func(o *options) {
		o.noisePath = path
		o.noiseSlices = slices
	}
}

// WithNoiseSize resamples every slice of the noise volume to w x h texels
// before upload. The slice count is unchanged. Zero in either dimension
// keeps the volume as loaded.
func WithNoiseSize(w, h uint32) Option {
	return func(o *options) {
		o.noiseSize = [2]uint32{w, h}
	}
}

// WithNoiseSeed sets the seed of the generated noise volume.
func WithNoiseSeed(seed uint64) Option {
	return func(o *options) {
		o.noiseSeed = seed
	}
}

// WithKernelSources overrides the WGSL of one or both stages. Empty fields
// keep the embedded kernel.
func WithKernelSources(k KernelSources) Option {
	return func(o *options) {
		o.kernels = k
	}
}

// WithKernelValidation compiles both kernels with naga before any GPU
// object is created.
func WithKernelValidation() Option {
	return func(o *options) {
		o.validate = true
	}
}

// WithFenceTimeout bounds every host-side wait on the GPU.
// Default 5 seconds.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}
