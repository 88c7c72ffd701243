// Package gpu implements the two-stage volumetric fog compute pipeline on
// top of the gogpu/wgpu HAL.
//
// This is an internal package used by the fog library. It owns every GPU
// object of the effect and the order in which they are created, recorded,
// submitted and destroyed.
//
// # Architecture Overview
//
//	Parameter Store -> uniform buffers -> Density stage -> 3D volume -> Reduction stage -> 2D fog texture
//
// Key components:
//
//   - Pipeline: composition root, one per fog effect instance
//   - resourceSet: volume, output and noise textures, samplers, uniform buffers
//   - stageContext: module, layouts, pipeline, bind group and batch of one StageRole
//   - Sequencer: the two ordered queue submissions of a frame
//   - HALQueue: ExecutionQueue over a hal.Queue with timeline fences
//   - scope: scoped acquisition, releases in reverse order on every exit path
//
// # Stages
//
// The Density stage (StageDensity) ray-marches the fog shapes and the noise
// volume into a width x height x depth RGBA8 volume in 8x8x8 workgroups.
// The Reduction stage (StageReduction) walks that volume along depth and
// writes one RGBA8 fog value per pixel in 8x8 workgroups. Both kernels
// bounds-check, so grids that are not multiples of 8 are fully covered.
//
// # Synchronization
//
// Every stage owns one timeline fence. Frame n signals value n on both.
// The Reduction submission declares a wait on the Density signal of the
// same frame; the value returned from Sequencer.Submit is the Reduction
// signal, which the lighting pass waits on before reading the fog texture.
//
// Uniform uploads wait for the previous frame's Reduction signal, so a
// buffer is never overwritten while a dispatch still reads it.
package gpu
