// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fog/internal/noise"
	"github.com/gogpu/fog/internal/params"
)

// fogTextureFormat is the format of the noise, volume and output textures.
const fogTextureFormat = gputypes.TextureFormatRGBA8Unorm

// resourceSet holds the GPU objects both stages bind: the uniform buffers,
// the noise volume, the intermediate density volume and the output image.
// The position texture is owned by the host renderer and only referenced.
type resourceSet struct {
	grid  Grid
	queue ExecutionQueue

	paramsBuf  hal.Buffer
	paramsSize uint64
	shapesBuf  hal.Buffer
	shapesSize uint64

	noiseTex     hal.Texture
	noiseView    hal.TextureView
	noiseSampler hal.Sampler

	positions       hal.TextureView
	positionSampler hal.Sampler

	volume            hal.Texture
	volumeStorageView hal.TextureView
	volumeSampledView hal.TextureView

	output            hal.Texture
	outputStorageView hal.TextureView
	outputSampledView hal.TextureView

	// layoutInit moves the fresh volume and output into the usage the
	// stage batches expect. It is submitted once, ahead of the first frame.
	layoutInit hal.CommandBuffer

	scope *scope
}

// resourceConfig describes what newResourceSet allocates.
type resourceConfig struct {
	Grid      Grid
	Noise     *noise.Volume
	Positions hal.TextureView
	Store     *params.Store
}

// newResourceSet allocates every shared resource, uploads the noise volume
// and seeds the uniform buffers from the store. The noise texture is
// created first so it is destroyed last. On failure everything created so
// far is destroyed.
func newResourceSet(device hal.Device, queue ExecutionQueue, cfg resourceConfig) (*resourceSet, error) {
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if cfg.Positions == nil {
		return nil, fmt.Errorf("%w: position texture view is nil", ErrMisuse)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: parameter store is nil", ErrMisuse)
	}
	if cfg.Noise == nil {
		return nil, fmt.Errorf("%w: noise volume is nil", ErrMisuse)
	}
	if err := cfg.Noise.Validate(); err != nil {
		return nil, fmt.Errorf("%w: noise volume: %w", ErrMisuse, err)
	}

	r := &resourceSet{
		grid:       cfg.Grid,
		queue:      queue,
		positions:  cfg.Positions,
		paramsSize: params.ParametersSize,
		shapesSize: params.ShapesSize,
		scope:      newScope("fog_resources"),
	}
	fail := func(err error) (*resourceSet, error) {
		_ = r.scope.close()
		return nil, err
	}

	var err error
	if err = r.createNoise(device, cfg.Noise); err != nil {
		return fail(err)
	}
	if err = r.createUniforms(device); err != nil {
		return fail(err)
	}
	if err = r.createVolume(device); err != nil {
		return fail(err)
	}
	if err = r.createOutput(device); err != nil {
		return fail(err)
	}

	r.positionSampler, err = acquire(r.scope, "fog_position_sampler", func() (hal.Sampler, error) {
		return device.CreateSampler(&hal.SamplerDescriptor{
			Label:        "fog_position_sampler",
			AddressModeU: gputypes.AddressModeClampToEdge,
			AddressModeV: gputypes.AddressModeClampToEdge,
			AddressModeW: gputypes.AddressModeClampToEdge,
			MagFilter:    gputypes.FilterModeNearest,
			MinFilter:    gputypes.FilterModeNearest,
			MipmapFilter: gputypes.FilterModeNearest,
		})
	}, device.DestroySampler)
	if err != nil {
		return fail(err)
	}

	r.layoutInit, err = acquire(r.scope, "fog_layout_init_batch", func() (hal.CommandBuffer, error) {
		return r.recordLayoutInit(device)
	}, device.FreeCommandBuffer)
	if err != nil {
		return fail(err)
	}

	// Seed the uniforms so the very first dispatch never reads garbage.
	if err = cfg.Store.Upload(r); err != nil {
		return fail(err)
	}

	slogger().Debug("gpu: resources created",
		"grid", r.grid.String(),
		"noise", fmt.Sprintf("%dx%dx%d", cfg.Noise.Width, cfg.Noise.Height, cfg.Noise.Depth),
		"objects", r.scope.live())
	return r, nil
}

func (r *resourceSet) createUniforms(device hal.Device) error {
	var err error
	r.paramsBuf, err = acquire(r.scope, "fog_params", func() (hal.Buffer, error) {
		return device.CreateBuffer(&hal.BufferDescriptor{
			Label: "fog_params", Size: r.paramsSize,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
	}, device.DestroyBuffer)
	if err != nil {
		return err
	}

	r.shapesBuf, err = acquire(r.scope, "fog_shapes", func() (hal.Buffer, error) {
		return device.CreateBuffer(&hal.BufferDescriptor{
			Label: "fog_shapes", Size: r.shapesSize,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
	}, device.DestroyBuffer)
	return err
}

func (r *resourceSet) createNoise(device hal.Device, vol *noise.Volume) error {
	var err error
	r.noiseTex, err = acquire(r.scope, "fog_noise", func() (hal.Texture, error) {
		return device.CreateTexture(&hal.TextureDescriptor{
			Label:         "fog_noise",
			Size:          hal.Extent3D{Width: vol.Width, Height: vol.Height, DepthOrArrayLayers: vol.Depth},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension3D,
			Format:        fogTextureFormat,
			Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		})
	}, device.DestroyTexture)
	if err != nil {
		return err
	}

	r.noiseView, err = acquire(r.scope, "fog_noise_view", func() (hal.TextureView, error) {
		return device.CreateTextureView(r.noiseTex, &hal.TextureViewDescriptor{
			Label:         "fog_noise_view",
			Format:        fogTextureFormat,
			Dimension:     gputypes.TextureViewDimension3D,
			Aspect:        gputypes.TextureAspectAll,
			MipLevelCount: 1,
		})
	}, device.DestroyTextureView)
	if err != nil {
		return err
	}

	// The noise tiles, so it repeats in every direction.
	r.noiseSampler, err = acquire(r.scope, "fog_noise_sampler", func() (hal.Sampler, error) {
		return device.CreateSampler(&hal.SamplerDescriptor{
			Label:        "fog_noise_sampler",
			AddressModeU: gputypes.AddressModeMirrorRepeat,
			AddressModeV: gputypes.AddressModeMirrorRepeat,
			AddressModeW: gputypes.AddressModeMirrorRepeat,
			MagFilter:    gputypes.FilterModeLinear,
			MinFilter:    gputypes.FilterModeLinear,
			MipmapFilter: gputypes.FilterModeLinear,
		})
	}, device.DestroySampler)
	if err != nil {
		return err
	}

	r.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  r.noiseTex,
			MipLevel: 0,
		},
		vol.Texels,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  vol.BytesPerRow(),
			RowsPerImage: vol.Height,
		},
		&hal.Extent3D{Width: vol.Width, Height: vol.Height, DepthOrArrayLayers: vol.Depth},
	)
	return nil
}

func (r *resourceSet) createVolume(device hal.Device) error {
	var err error
	g := r.grid
	r.volume, err = acquire(r.scope, "fog_volume", func() (hal.Texture, error) {
		return device.CreateTexture(&hal.TextureDescriptor{
			Label:         "fog_volume",
			Size:          hal.Extent3D{Width: g.Width, Height: g.Height, DepthOrArrayLayers: g.Depth},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension3D,
			Format:        fogTextureFormat,
			Usage:         gputypes.TextureUsageStorageBinding | gputypes.TextureUsageTextureBinding,
		})
	}, device.DestroyTexture)
	if err != nil {
		return err
	}

	r.volumeStorageView, err = acquire(r.scope, "fog_volume_storage_view", func() (hal.TextureView, error) {
		return device.CreateTextureView(r.volume, &hal.TextureViewDescriptor{
			Label:         "fog_volume_storage_view",
			Format:        fogTextureFormat,
			Dimension:     gputypes.TextureViewDimension3D,
			Aspect:        gputypes.TextureAspectAll,
			MipLevelCount: 1,
		})
	}, device.DestroyTextureView)
	if err != nil {
		return err
	}

	r.volumeSampledView, err = acquire(r.scope, "fog_volume_sampled_view", func() (hal.TextureView, error) {
		return device.CreateTextureView(r.volume, &hal.TextureViewDescriptor{
			Label:         "fog_volume_sampled_view",
			Format:        fogTextureFormat,
			Dimension:     gputypes.TextureViewDimension3D,
			Aspect:        gputypes.TextureAspectAll,
			MipLevelCount: 1,
		})
	}, device.DestroyTextureView)
	return err
}

func (r *resourceSet) createOutput(device hal.Device) error {
	var err error
	g := r.grid
	r.output, err = acquire(r.scope, "fog_output", func() (hal.Texture, error) {
		return device.CreateTexture(&hal.TextureDescriptor{
			Label:         "fog_output",
			Size:          hal.Extent3D{Width: g.Width, Height: g.Height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        fogTextureFormat,
			Usage: gputypes.TextureUsageStorageBinding | gputypes.TextureUsageTextureBinding |
				gputypes.TextureUsageCopySrc,
		})
	}, device.DestroyTexture)
	if err != nil {
		return err
	}

	r.outputStorageView, err = acquire(r.scope, "fog_output_storage_view", func() (hal.TextureView, error) {
		return device.CreateTextureView(r.output, &hal.TextureViewDescriptor{
			Label:         "fog_output_storage_view",
			Format:        fogTextureFormat,
			Dimension:     gputypes.TextureViewDimension2D,
			Aspect:        gputypes.TextureAspectAll,
			MipLevelCount: 1,
		})
	}, device.DestroyTextureView)
	if err != nil {
		return err
	}

	r.outputSampledView, err = acquire(r.scope, "fog_output_sampled_view", func() (hal.TextureView, error) {
		return device.CreateTextureView(r.output, &hal.TextureViewDescriptor{
			Label:         "fog_output_sampled_view",
			Format:        fogTextureFormat,
			Dimension:     gputypes.TextureViewDimension2D,
			Aspect:        gputypes.TextureAspectAll,
			MipLevelCount: 1,
		})
	}, device.DestroyTextureView)
	return err
}

// recordLayoutInit records the barriers that take the volume and the output
// from their undefined initial contents to TextureBinding usage.
func (r *resourceSet) recordLayoutInit(device hal.Device) (hal.CommandBuffer, error) {
	const label = "fog_layout_init"
	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	encoder.TransitionTextures([]hal.TextureBarrier{
		{
			Texture: r.volume,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageNone,
				NewUsage: gputypes.TextureUsageTextureBinding,
			},
		},
		{
			Texture: r.output,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageNone,
				NewUsage: gputypes.TextureUsageTextureBinding,
			},
		},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	return cmdBuf, nil
}

// Upload implements params.Uploader by writing both uniform blocks through
// the queue. The queue copies data before returning.
func (r *resourceSet) Upload(parameters, shapes []byte) error {
	if uint64(len(parameters)) != r.paramsSize {
		return fmt.Errorf("%w: parameter block is %d bytes, want %d", ErrMisuse, len(parameters), r.paramsSize)
	}
	if uint64(len(shapes)) != r.shapesSize {
		return fmt.Errorf("%w: shape block is %d bytes, want %d", ErrMisuse, len(shapes), r.shapesSize)
	}
	r.queue.WriteBuffer(r.paramsBuf, 0, parameters)
	r.queue.WriteBuffer(r.shapesBuf, 0, shapes)
	return nil
}

// release destroys every resource, newest first.
func (r *resourceSet) release() error {
	return r.scope.close()
}
