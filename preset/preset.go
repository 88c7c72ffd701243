// Package preset loads fog settings from TOML or YAML files.
//
// A preset names only the settings it changes; everything else keeps the
// fog defaults. Both formats share one schema:
//
//	[grid]
//	width = 320
//	height = 180
//	depth = 256
//
//	[camera]
//	near = 0.1
//	far = 50.0
//
//	[fog]
//	albedo = [0.9, 0.85, 0.8]
//	density = 0.6
//	wind = [1.0, 0.0, 0.0]
//
//	[[spheres]]
//	center = [0.0, 2.0, -3.0]
//	radius = 3.5
//
// The format is chosen by file extension: .toml, or .yaml / .yml.
package preset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/fog"
	"github.com/gogpu/fog/internal/params"
)

var (
	// ErrFormat is returned for a file extension no decoder is registered for.
	ErrFormat = errors.New("preset: unknown format")

	// ErrOutOfRange is returned by Check for a value outside its editing range.
	ErrOutOfRange = errors.New("preset: value out of range")

	// ErrTooManySpheres is returned when a preset lists more spheres than
	// the fog has slots.
	ErrTooManySpheres = errors.New("preset: too many spheres")
)

// Decoder decodes one preset document.
type Decoder interface {
	Decode(v any) error
}

// DecoderFunc creates a Decoder reading from r.
type DecoderFunc func(r io.Reader) Decoder

// TOML decodes TOML presets.
func TOML(r io.Reader) Decoder { return toml.NewDecoder(r).DisallowUnknownFields() }

// YAML decodes YAML presets.
func YAML(r io.Reader) Decoder {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	return d
}

// Grid is the volume size section.
type Grid struct {
	Width  uint32 `toml:"width" yaml:"width"`
	Height uint32 `toml:"height" yaml:"height"`
	Depth  uint32 `toml:"depth" yaml:"depth"`
}

// Camera is the clip plane section.
type Camera struct {
	Near float32 `toml:"near" yaml:"near"`
	Far  float32 `toml:"far" yaml:"far"`
}

// Settings is the fog section. Nil fields keep their defaults.
type Settings struct {
	Albedo                *[3]float32 `toml:"albedo" yaml:"albedo"`
	InitialStepSize       *float32    `toml:"initial_step_size" yaml:"initial_step_size"`
	FallOffMultiplier     *float32    `toml:"fall_off_multiplier" yaml:"fall_off_multiplier"`
	LightMarchSize        *float32    `toml:"light_march_size" yaml:"light_march_size"`
	Absorption            *float32    `toml:"absorption" yaml:"absorption"`
	Density               *float32    `toml:"density" yaml:"density"`
	AbsorptionCutoff      *float32    `toml:"absorption_cutoff" yaml:"absorption_cutoff"`
	LightAbsorptionCutoff *float32    `toml:"light_absorption_cutoff" yaml:"light_absorption_cutoff"`
	NoiseTile             *[3]float32 `toml:"noise_tile" yaml:"noise_tile"`
	NoiseFactor           *float32    `toml:"noise_factor" yaml:"noise_factor"`
	SmoothFactor          *float32    `toml:"smooth_factor" yaml:"smooth_factor"`
	Wind                  *[3]float32 `toml:"wind" yaml:"wind"`
}

// Sphere is one entry of the spheres list.
type Sphere struct {
	Center [3]float32 `toml:"center" yaml:"center"`
	Radius float32    `toml:"radius" yaml:"radius"`
}

// Noise selects the noise volume.
type Noise struct {
	File   string `toml:"file" yaml:"file"`
	Slices int    `toml:"slices" yaml:"slices"`
	Seed   uint64 `toml:"seed" yaml:"seed"`

	// Size resamples each slice to width x height texels.
	Size *[2]uint32 `toml:"size" yaml:"size"`
}

// Preset is a decoded preset file.
type Preset struct {
	Grid    *Grid    `toml:"grid" yaml:"grid"`
	Camera  *Camera  `toml:"camera" yaml:"camera"`
	Fog     Settings `toml:"fog" yaml:"fog"`
	Spheres []Sphere `toml:"spheres" yaml:"spheres"`
	Noise   *Noise   `toml:"noise" yaml:"noise"`

	// dir resolves a relative noise file.
	dir string
}

// DecoderFor returns the decoder registered for the extension of filename.
func DecoderFor(filename string) (DecoderFunc, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrFormat, filepath.Ext(filename))
}

// Open reads the preset in filename. A relative noise file is resolved
// against the directory of the preset.
func Open(filename string) (*Preset, error) {
	f, err := DecoderFor(filename)
	if err != nil {
		return nil, err
	}
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	p, err := Read(bufio.NewReader(fp), f)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", filename, err)
	}
	p.dir = filepath.Dir(filename)
	return p, nil
}

// Read decodes a preset from r with the given decoder.
func Read(r io.Reader, f DecoderFunc) (*Preset, error) {
	var p Preset
	if err := f(r).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(p.Spheres) > params.MaxShapes {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySpheres, len(p.Spheres), params.MaxShapes)
	}
	return &p, nil
}

// Check reports every value outside the editing range of its field.
// Out-of-range values are still applied.
func (p *Preset) Check() error {
	var errs []error
	check := func(name string, vs ...float32) {
		r, ok := params.LookupRange(name)
		if !ok {
			return
		}
		for _, v := range vs {
			if v < r.Min || v > r.Max {
				errs = append(errs, fmt.Errorf("%w: %s = %g not in [%g, %g]", ErrOutOfRange, name, v, r.Min, r.Max))
				return
			}
		}
	}
	s := p.Fog
	if s.Albedo != nil {
		check("albedo", s.Albedo[:]...)
	}
	checkScalar := func(name string, v *float32) {
		if v != nil {
			check(name, *v)
		}
	}
	checkScalar("initial_step_size", s.InitialStepSize)
	checkScalar("fall_off_multiplier", s.FallOffMultiplier)
	checkScalar("light_march_size", s.LightMarchSize)
	checkScalar("absorption", s.Absorption)
	checkScalar("density", s.Density)
	checkScalar("absorption_cutoff", s.AbsorptionCutoff)
	checkScalar("light_absorption_cutoff", s.LightAbsorptionCutoff)
	checkScalar("noise_factor", s.NoiseFactor)
	checkScalar("smooth_factor", s.SmoothFactor)
	if s.NoiseTile != nil {
		check("noise_tile", s.NoiseTile[:]...)
	}
	if s.Wind != nil {
		check("wind", s.Wind[:]...)
	}
	for _, sp := range p.Spheres {
		check("sphere_center", sp.Center[:]...)
		check("sphere_radius", sp.Radius)
	}
	return errors.Join(errs...)
}

// Parameters returns base with the fog section applied.
func (p *Preset) Parameters(base fog.Parameters) fog.Parameters {
	s := p.Fog
	set := func(dst *float32, v *float32) {
		if v != nil {
			*dst = *v
		}
	}
	if s.Albedo != nil {
		base.Albedo = mgl32.Vec3(*s.Albedo)
	}
	set(&base.InitialStepSize, s.InitialStepSize)
	set(&base.LightMarchSize, s.LightMarchSize)
	set(&base.Absorption, s.Absorption)
	set(&base.Density, s.Density)
	set(&base.AbsorptionCutoff, s.AbsorptionCutoff)
	set(&base.LightAbsorptionCutoff, s.LightAbsorptionCutoff)
	if s.NoiseTile != nil {
		base.NoiseTile = mgl32.Vec3(*s.NoiseTile)
	}
	set(&base.NoiseFactor, s.NoiseFactor)
	set(&base.SmoothFactor, s.SmoothFactor)
	return base
}

// Shapes returns the sphere list as a shape set, or false if the preset
// keeps the default spheres.
func (p *Preset) Shapes() (fog.ShapeSet, bool) {
	if p.Spheres == nil {
		return fog.ShapeSet{}, false
	}
	var set fog.ShapeSet
	for i, sp := range p.Spheres {
		set.Spheres[i] = fog.Sphere{Center: mgl32.Vec3(sp.Center), Radius: sp.Radius}
	}
	set.Count = len(p.Spheres)
	return set, true
}

// Options returns the fog options the preset describes.
func (p *Preset) Options() []fog.Option {
	opts := []fog.Option{fog.WithParameters(p.Parameters(fog.DefaultParameters()))}
	if g := p.Grid; g != nil {
		opts = append(opts, fog.WithGrid(g.Width, g.Height, g.Depth))
	}
	if c := p.Camera; c != nil {
		opts = append(opts, fog.WithCamera(c.Near, c.Far))
	}
	if set, ok := p.Shapes(); ok {
		opts = append(opts, fog.WithShapes(set))
	}
	if w := p.Fog.Wind; w != nil {
		opts = append(opts, fog.WithWind(mgl32.Vec3(*w)))
	}
	if m := p.Fog.FallOffMultiplier; m != nil {
		opts = append(opts, fog.WithFallOffMultiplier(*m))
	}
	if n := p.Noise; n != nil {
		if n.File != "" {
			file := n.File
			if !filepath.IsAbs(file) && p.dir != "" {
				file = filepath.Join(p.dir, file)
			}
			opts = append(opts, fog.WithNoiseFile(file, n.Slices))
		}
		if n.Seed != 0 {
			opts = append(opts, fog.WithNoiseSeed(n.Seed))
		}
		if n.Size != nil {
			opts = append(opts, fog.WithNoiseSize(n.Size[0], n.Size[1]))
		}
	}
	return opts
}
