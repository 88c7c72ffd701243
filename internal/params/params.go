// Package params holds the fog volume parameter model: the values the two
// compute kernels read from uniform memory, the fog shape set, and the store
// that tracks when those values need to be uploaded again.
package params

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ParametersSize is the byte size of the Params uniform block.
// The layout follows WGSL uniform rules: a vec3<f32> is 16-byte aligned and
// the scalar that follows it packs into its last four bytes.
const ParametersSize = 96

// WrapBound is the modulus applied to the animated noise offsets.
// It keeps offsets finite without ever wrapping at a scale a tiling
// frequency could reveal.
const WrapBound float32 = math.MaxFloat32 - 10

// Parameters mirrors the Params uniform block read by both kernels.
type Parameters struct {
	// Albedo is the scattering color of the fog, each channel in [0, 1].
	Albedo mgl32.Vec3

	// InitialStepSize is the first ray-march step length.
	InitialStepSize float32

	// StepFallOff is the per-step growth of the march step. It is derived
	// from the store's fall-off multiplier on every update.
	StepFallOff float32

	// LightMarchSize is the step length of the secondary march toward the light.
	LightMarchSize float32

	// Near and Far are the camera clip distances, fixed at construction.
	Near float32
	Far  float32

	Absorption float32
	Density    float32

	// AbsorptionCutoff ends a march once accumulated opacity exceeds
	// 1 - AbsorptionCutoff.
	AbsorptionCutoff float32

	// LightAbsorptionCutoff ends the light march once visibility drops
	// below it.
	LightAbsorptionCutoff float32

	// NoiseTile is the tiling frequency of the noise volume on each axis.
	NoiseTile mgl32.Vec3

	// NoiseFactor scales the noise contribution to density.
	NoiseFactor float32

	// NoiseOffset is animated by wind and wrapped at WrapBound.
	NoiseOffset mgl32.Vec3

	// SmoothFactor is the smooth-union blend factor of the shape SDFs.
	SmoothFactor float32

	// Grid dimensions of the 3D volume, fixed at construction.
	MapWidth  uint32
	MapHeight uint32
	MapDepth  uint32
}

// DefaultParameters returns the parameter set the fog ships with for a
// 640x360x512 grid. Near and Far are zero until a camera is applied.
func DefaultParameters() Parameters {
	return Parameters{
		Albedo:                mgl32.Vec3{0.8, 0.8, 0.8},
		InitialStepSize:       0.025,
		StepFallOff:           fallOff(DefaultFallOffMultiplier),
		LightMarchSize:        0.2,
		Absorption:            0.5,
		Density:               0.8,
		AbsorptionCutoff:      0.01,
		LightAbsorptionCutoff: 0.01,
		NoiseTile:             mgl32.Vec3{11.0, 10.8, 7.5},
		NoiseFactor:           1.5,
		SmoothFactor:          0.9,
		MapWidth:              640,
		MapHeight:             360,
		MapDepth:              512,
	}
}

// AppendBytes appends the little-endian uniform encoding of p to dst.
func (p *Parameters) AppendBytes(dst []byte) []byte {
	var buf [ParametersSize]byte
	le := binary.LittleEndian
	putVec3(buf[0:12], p.Albedo)
	le.PutUint32(buf[12:16], math.Float32bits(p.InitialStepSize))
	le.PutUint32(buf[16:20], math.Float32bits(p.StepFallOff))
	le.PutUint32(buf[20:24], math.Float32bits(p.LightMarchSize))
	le.PutUint32(buf[24:28], math.Float32bits(p.Near))
	le.PutUint32(buf[28:32], math.Float32bits(p.Far))
	le.PutUint32(buf[32:36], math.Float32bits(p.Absorption))
	le.PutUint32(buf[36:40], math.Float32bits(p.Density))
	le.PutUint32(buf[40:44], math.Float32bits(p.AbsorptionCutoff))
	le.PutUint32(buf[44:48], math.Float32bits(p.LightAbsorptionCutoff))
	putVec3(buf[48:60], p.NoiseTile)
	le.PutUint32(buf[60:64], math.Float32bits(p.NoiseFactor))
	putVec3(buf[64:76], p.NoiseOffset)
	le.PutUint32(buf[76:80], math.Float32bits(p.SmoothFactor))
	le.PutUint32(buf[80:84], p.MapWidth)
	le.PutUint32(buf[84:88], p.MapHeight)
	le.PutUint32(buf[88:92], p.MapDepth)
	// buf[92:96] is padding.
	return append(dst, buf[:]...)
}

func putVec3(b []byte, v mgl32.Vec3) {
	le := binary.LittleEndian
	le.PutUint32(b[0:4], math.Float32bits(v[0]))
	le.PutUint32(b[4:8], math.Float32bits(v[1]))
	le.PutUint32(b[8:12], math.Float32bits(v[2]))
}
