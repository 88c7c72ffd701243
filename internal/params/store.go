package params

import (
	"errors"
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// DefaultFallOffMultiplier is the UI-facing fall-off multiplier the fog
// starts with.
const DefaultFallOffMultiplier float32 = 0.025

// ErrShapeIndex is returned when a shape index is outside [0, MaxShapes).
var ErrShapeIndex = errors.New("params: shape index out of range")

// DefaultWind returns the default noise wind speed in units per second.
func DefaultWind() mgl32.Vec3 {
	return mgl32.Vec3{0.4, 0.7, -0.1}
}

// Uploader receives encoded uniform blocks. The GPU resource set implements
// it by writing into its two uniform buffers.
type Uploader interface {
	Upload(parameters, shapes []byte) error
}

// Store owns the mutable fog state and the "settings out of date" flag.
//
// Near, Far and the grid dimensions are fixed when the store is created;
// edits to them through Edit are discarded. No value is range checked.
//
// Store is not safe for concurrent use.
type Store struct {
	params  Parameters
	shapes  ShapeSet
	wind    mgl32.Vec3
	fallOff float32 // UI multiplier, StepFallOff = fallOff / 100
	dirty   bool

	scratch []byte
}

// NewStore returns a store seeded with p and shapes. The store starts dirty
// so the first upload always happens.
func NewStore(p Parameters, shapes ShapeSet) *Store {
	s := &Store{
		params:  p,
		shapes:  shapes,
		wind:    DefaultWind(),
		fallOff: p.StepFallOff * 100,
		dirty:   true,
	}
	if p.StepFallOff == 0 {
		s.fallOff = 0
	}
	return s
}

// Parameters returns a copy of the current parameters.
func (s *Store) Parameters() Parameters { return s.params }

// Shapes returns a copy of the current shape set.
func (s *Store) Shapes() ShapeSet { return s.shapes }

// Wind returns the noise wind speed.
func (s *Store) Wind() mgl32.Vec3 { return s.wind }

// FallOffMultiplier returns the UI-facing step fall-off multiplier.
func (s *Store) FallOffMultiplier() float32 { return s.fallOff }

// Dirty reports whether some value changed since the last upload.
func (s *Store) Dirty() bool { return s.dirty }

// MarkDirty forces the next upload to be treated as pending.
func (s *Store) MarkDirty() { s.dirty = true }

// Edit applies fn to the parameters and marks the store dirty.
// Changes to Near, Far and the grid dimensions are reverted.
func (s *Store) Edit(fn func(p *Parameters)) {
	fixed := s.params
	fn(&s.params)
	s.params.Near = fixed.Near
	s.params.Far = fixed.Far
	s.params.MapWidth = fixed.MapWidth
	s.params.MapHeight = fixed.MapHeight
	s.params.MapDepth = fixed.MapDepth
	s.dirty = true
}

// SetWind sets the wind speed that animates the noise offsets.
func (s *Store) SetWind(v mgl32.Vec3) {
	s.wind = v
	s.dirty = true
}

// SetFallOffMultiplier sets the multiplier StepFallOff is derived from on
// the next Update.
func (s *Store) SetFallOffMultiplier(m float32) {
	s.fallOff = m
	s.dirty = true
}

// SetSphere replaces the sphere in slot i.
func (s *Store) SetSphere(i int, sp Sphere) error {
	if i < 0 || i >= MaxShapes {
		return fmt.Errorf("%w: %d", ErrShapeIndex, i)
	}
	s.shapes.Spheres[i] = sp
	s.dirty = true
	return nil
}

// Sphere returns the sphere in slot i.
func (s *Store) Sphere(i int) (Sphere, error) {
	if i < 0 || i >= MaxShapes {
		return Sphere{}, fmt.Errorf("%w: %d", ErrShapeIndex, i)
	}
	return s.shapes.Spheres[i], nil
}

// SetSphereCount sets how many slots are active.
func (s *Store) SetSphereCount(n int) error {
	if n < 0 || n > MaxShapes {
		return fmt.Errorf("%w: count %d", ErrShapeIndex, n)
	}
	s.shapes.Count = n
	s.dirty = true
	return nil
}

// Update advances the noise offsets by dt seconds of wind and recomputes
// StepFallOff from the multiplier. It does not touch GPU memory.
func (s *Store) Update(dt float32) {
	for i := range 3 {
		off := wrapOffset(s.params.NoiseOffset[i], dt, s.wind[i])
		if off != s.params.NoiseOffset[i] {
			s.dirty = true
		}
		s.params.NoiseOffset[i] = off
	}

	f := fallOff(s.fallOff)
	if f != s.params.StepFallOff {
		s.dirty = true
	}
	s.params.StepFallOff = f
}

// Upload encodes both uniform blocks and hands them to u. The dirty flag is
// cleared only when u accepts the data. The slices are reused by the next
// Upload, so u must copy what it keeps.
func (s *Store) Upload(u Uploader) error {
	s.scratch = s.params.AppendBytes(s.scratch[:0])
	s.scratch = s.shapes.AppendBytes(s.scratch)
	if err := u.Upload(s.scratch[:ParametersSize], s.scratch[ParametersSize:]); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// wrapOffset returns off+dt*speed wrapped into (-WrapBound, WrapBound),
// keeping the sign of the sum. The sum is formed in float64 so a step that
// would overflow float32 still wraps instead of turning infinite.
func wrapOffset(off, dt, speed float32) float32 {
	sum := float64(off) + float64(dt)*float64(speed)
	w := float32(math.Mod(sum, float64(WrapBound)))
	if math32.Abs(w) >= WrapBound {
		w = math32.Mod(w, WrapBound)
	}
	return w
}

func fallOff(multiplier float32) float32 {
	if multiplier == 0 {
		return 0
	}
	return multiplier / 100
}
