// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
)

// Embedded WGSL kernel sources.

//go:embed shaders/density.wgsl
var densityShaderSource string

//go:embed shaders/reduction.wgsl
var reductionShaderSource string

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// ErrEmptyKernel is returned for a kernel with no source.
var ErrEmptyKernel = errors.New("gpu: kernel source is empty")

// KernelSources holds the WGSL source of both stages.
type KernelSources struct {
	Density   string
	Reduction string
}

// DefaultKernels returns the embedded kernels.
func DefaultKernels() KernelSources {
	return KernelSources{
		Density:   densityShaderSource,
		Reduction: reductionShaderSource,
	}
}

// For returns the source of the given stage.
func (k KernelSources) For(role StageRole) string {
	switch role {
	case StageDensity:
		return k.Density
	case StageReduction:
		return k.Reduction
	default:
		return ""
	}
}

// With returns a copy of k with the source of role replaced.
func (k KernelSources) With(role StageRole, src string) KernelSources {
	switch role {
	case StageDensity:
		k.Density = src
	case StageReduction:
		k.Reduction = src
	}
	return k
}

// CompileKernel compiles a WGSL kernel to SPIR-V words with naga.
// It is used to reject broken kernels before they reach the device.
func CompileKernel(src string) ([]uint32, error) {
	if src == "" {
		return nil, ErrEmptyKernel
	}

	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("gpu: compile kernel: %w", err)
	}
	if len(spirvBytes) < 4 || len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("gpu: compile kernel: malformed SPIR-V (%d bytes)", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("gpu: compile kernel: bad SPIR-V magic %#x", words[0])
	}
	return words, nil
}

// ValidateKernels compiles both kernels and reports the first failure.
func ValidateKernels(k KernelSources) error {
	for _, role := range StageRoles() {
		words, err := CompileKernel(k.For(role))
		if err != nil {
			return fmt.Errorf("%s kernel: %w", role, err)
		}
		slogger().Debug("gpu: kernel validated", "stage", role.String(), "spirv_words", len(words))
	}
	return nil
}
