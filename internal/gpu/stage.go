// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// stage.go defines the two compute stages of the fog pipeline: their roles,
// binding interfaces, dispatch sizes and the one-time recording of their
// command batches.

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// workgroupEdge is the workgroup edge length of both kernels. The Density
// kernel runs 8x8x8 invocations per group, the Reduction kernel 8x8x1.
const workgroupEdge = 8

// StageRole identifies one of the two compute stages.
type StageRole int

const (
	// StageDensity ray-marches shapes and noise into the 3D volume.
	// Bindings: params, shapes, noise texture + sampler, position texture +
	// sampler, volume (storage, write).
	StageDensity StageRole = iota

	// StageReduction composites the volume along depth into the 2D output.
	// Bindings: params, volume (sampled), output (storage, write).
	StageReduction

	stageCount
)

// StageRoles returns the roles in submission order.
func StageRoles() []StageRole { return []StageRole{StageDensity, StageReduction} }

// String returns the human-readable name of the stage.
func (r StageRole) String() string {
	switch r {
	case StageDensity:
		return "density"
	case StageReduction:
		return "reduction"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Grid is the size of the fog volume in voxels.
type Grid struct {
	Width, Height, Depth uint32
}

// Validate rejects grids with a zero dimension.
func (g Grid) Validate() error {
	if g.Width == 0 || g.Height == 0 || g.Depth == 0 {
		return fmt.Errorf("%w: grid %dx%dx%d has a zero dimension", ErrMisuse, g.Width, g.Height, g.Depth)
	}
	return nil
}

// String returns the grid as WxHxD.
func (g Grid) String() string { return fmt.Sprintf("%dx%dx%d", g.Width, g.Height, g.Depth) }

// Workgroups returns the dispatch size of role over g. Every axis is rounded
// up, so the dispatch never under-covers the grid; kernels no-op outside it.
func Workgroups(role StageRole, g Grid) (x, y, z uint32) {
	x = ceilDiv(g.Width, workgroupEdge)
	y = ceilDiv(g.Height, workgroupEdge)
	z = 1
	if role == StageDensity {
		z = ceilDiv(g.Depth, workgroupEdge)
	}
	return x, y, z
}

func ceilDiv(n, d uint32) uint32 { return (n + d - 1) / d }

// stageBindGroupLayoutEntries returns the bind group layout entries for a
// stage. These entries match the @group(0) @binding(N) declarations in the
// corresponding kernel exactly.
func stageBindGroupLayoutEntries(role StageRole) []gputypes.BindGroupLayoutEntry {
	uniform := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		}
	}
	sampled := func(binding uint32, dim gputypes.TextureViewDimension) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: dim,
			},
		}
	}
	sampler := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		}
	}
	storage := func(binding uint32, dim gputypes.TextureViewDimension) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			StorageTexture: &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessWriteOnly,
				Format:        fogTextureFormat,
				ViewDimension: dim,
			},
		}
	}

	switch role {
	case StageDensity:
		// @binding(0) uniform params
		// @binding(1) uniform shapes
		// @binding(2) texture_3d noise      @binding(3) sampler
		// @binding(4) texture_2d positions  @binding(5) sampler
		// @binding(6) texture_storage_3d volume (write)
		return []gputypes.BindGroupLayoutEntry{
			uniform(0), uniform(1),
			sampled(2, gputypes.TextureViewDimension3D), sampler(3),
			sampled(4, gputypes.TextureViewDimension2D), sampler(5),
			storage(6, gputypes.TextureViewDimension3D),
		}

	case StageReduction:
		// @binding(0) uniform params
		// @binding(1) texture_3d volume
		// @binding(2) texture_storage_2d output (write)
		return []gputypes.BindGroupLayoutEntry{
			uniform(0),
			sampled(1, gputypes.TextureViewDimension3D),
			storage(2, gputypes.TextureViewDimension2D),
		}

	default:
		return nil
	}
}

// stageBindGroupEntries maps each binding of a stage to the matching object
// of the resource set.
func stageBindGroupEntries(role StageRole, res *resourceSet) []gputypes.BindGroupEntry {
	buffer := func(binding uint32, buf hal.Buffer, size uint64) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding:  binding,
			Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: 0, Size: size},
		}
	}
	view := func(binding uint32, v hal.TextureView) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding:  binding,
			Resource: gputypes.TextureViewBinding{TextureView: v.NativeHandle()},
		}
	}
	sampler := func(binding uint32, s hal.Sampler) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding:  binding,
			Resource: gputypes.SamplerBinding{Sampler: s.NativeHandle()},
		}
	}

	switch role {
	case StageDensity:
		return []gputypes.BindGroupEntry{
			buffer(0, res.paramsBuf, res.paramsSize),
			buffer(1, res.shapesBuf, res.shapesSize),
			view(2, res.noiseView),
			sampler(3, res.noiseSampler),
			view(4, res.positions),
			sampler(5, res.positionSampler),
			view(6, res.volumeStorageView),
		}

	case StageReduction:
		return []gputypes.BindGroupEntry{
			buffer(0, res.paramsBuf, res.paramsSize),
			view(1, res.volumeSampledView),
			view(2, res.outputStorageView),
		}

	default:
		return nil
	}
}

// stageContext is everything one stage owns: its kernel objects, its
// binding table and its recorded batch. Its completion fence lives in the
// pipeline's signal scope so kernels can be rebuilt without losing the
// fence timeline.
type stageContext struct {
	role StageRole

	module    hal.ShaderModule
	bgLayout  hal.BindGroupLayout
	layout    hal.PipelineLayout
	pipeline  hal.ComputePipeline
	bindGroup hal.BindGroup
	batch     hal.CommandBuffer

	scope *scope
}

// newStageContext creates the kernel objects of role and records its batch.
// On failure every object created so far is destroyed.
func newStageContext(device hal.Device, role StageRole, src string, res *resourceSet) (*stageContext, error) {
	if src == "" {
		return nil, fmt.Errorf("%w: %s: %w", ErrResourceCreation, role, ErrEmptyKernel)
	}

	name := "fog_" + role.String()
	sc := &stageContext{role: role, scope: newScope(name)}
	fail := func(err error) (*stageContext, error) {
		_ = sc.scope.close()
		return nil, err
	}

	var err error

	// 1. Shader module from WGSL source.
	sc.module, err = acquire(sc.scope, name+"_module", func() (hal.ShaderModule, error) {
		return device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  name,
			Source: hal.ShaderSource{WGSL: src},
		})
	}, device.DestroyShaderModule)
	if err != nil {
		return fail(err)
	}

	// 2. Bind group layout.
	entries := stageBindGroupLayoutEntries(role)
	sc.bgLayout, err = acquire(sc.scope, name+"_bgl", func() (hal.BindGroupLayout, error) {
		return device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   name + "_bgl",
			Entries: entries,
		})
	}, device.DestroyBindGroupLayout)
	if err != nil {
		return fail(err)
	}

	// 3. Pipeline layout.
	sc.layout, err = acquire(sc.scope, name+"_pl", func() (hal.PipelineLayout, error) {
		return device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            name + "_pl",
			BindGroupLayouts: []hal.BindGroupLayout{sc.bgLayout},
		})
	}, device.DestroyPipelineLayout)
	if err != nil {
		return fail(err)
	}

	// 4. Compute pipeline.
	sc.pipeline, err = acquire(sc.scope, name+"_pipeline", func() (hal.ComputePipeline, error) {
		return device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:  name,
			Layout: sc.layout,
			Compute: hal.ComputeState{
				Module:     sc.module,
				EntryPoint: "main",
			},
		})
	}, device.DestroyComputePipeline)
	if err != nil {
		return fail(err)
	}

	// 5. Binding table, fixed for the lifetime of the stage.
	sc.bindGroup, err = acquire(sc.scope, name+"_bg", func() (hal.BindGroup, error) {
		return device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   name + "_bg",
			Layout:  sc.bgLayout,
			Entries: stageBindGroupEntries(role, res),
		})
	}, device.DestroyBindGroup)
	if err != nil {
		return fail(err)
	}

	// 6. The batch replayed every frame.
	sc.batch, err = acquire(sc.scope, name+"_batch", func() (hal.CommandBuffer, error) {
		return recordBatch(device, sc, res)
	}, device.FreeCommandBuffer)
	if err != nil {
		return fail(err)
	}

	x, y, z := Workgroups(role, res.grid)
	slogger().Debug("gpu: stage created",
		"stage", role.String(),
		"bindings", len(entries),
		"shader_bytes", len(src),
		"workgroups", fmt.Sprintf("%dx%dx%d", x, y, z))
	return sc, nil
}

// recordBatch records the single compute pass of a stage, wrapped in the
// barriers that order it against the other stage and the lighting pass.
// Between frames the volume and the output rest in TextureBinding usage;
// the layout-init batch puts them there before the first frame.
func recordBatch(device hal.Device, sc *stageContext, res *resourceSet) (hal.CommandBuffer, error) {
	label := "fog_" + sc.role.String()
	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	switch sc.role {
	case StageDensity:
		// The previous frame's Reduction sampled the volume.
		encoder.TransitionTextures([]hal.TextureBarrier{{
			Texture: res.volume,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageTextureBinding,
				NewUsage: gputypes.TextureUsageStorageBinding,
			},
		}})
	case StageReduction:
		// Density wrote the volume; the lighting pass read the output.
		encoder.TransitionTextures([]hal.TextureBarrier{
			{
				Texture: res.volume,
				Usage: hal.TextureUsageTransition{
					OldUsage: gputypes.TextureUsageStorageBinding,
					NewUsage: gputypes.TextureUsageTextureBinding,
				},
			},
			{
				Texture: res.output,
				Usage: hal.TextureUsageTransition{
					OldUsage: gputypes.TextureUsageTextureBinding,
					NewUsage: gputypes.TextureUsageStorageBinding,
				},
			},
		})
	}

	x, y, z := Workgroups(sc.role, res.grid)
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	pass.SetPipeline(sc.pipeline)
	pass.SetBindGroup(0, sc.bindGroup, nil)
	pass.Dispatch(x, y, z)
	pass.End()

	if sc.role == StageReduction {
		// Hand the output back to the lighting pass.
		encoder.TransitionTextures([]hal.TextureBarrier{{
			Texture: res.output,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageStorageBinding,
				NewUsage: gputypes.TextureUsageTextureBinding,
			},
		}})
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	return cmdBuf, nil
}

// release destroys every object of the stage, newest first.
func (sc *stageContext) release() error {
	return sc.scope.close()
}
