package params

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxShapes is the fixed capacity of a ShapeSet. The Shapes uniform block
// declares an array of exactly this many spheres.
const MaxShapes = 3

// ShapesSize is the byte size of the Shapes uniform block: three 16-byte
// spheres followed by the count, rounded up to 16 bytes.
const ShapesSize = MaxShapes*16 + 16

// Sphere is a fog shape primitive.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// ShapeSet is a fixed-capacity set of fog spheres. All MaxShapes slots are
// uploaded every time; Count says how many of them are active.
type ShapeSet struct {
	Spheres [MaxShapes]Sphere
	Count   int
}

// DefaultShapes returns the three spheres the fog starts with.
func DefaultShapes() ShapeSet {
	return ShapeSet{
		Spheres: [MaxShapes]Sphere{
			{Center: mgl32.Vec3{1.25, 5.4, -2.01}, Radius: 2.9},
			{Center: mgl32.Vec3{-0.8, 2.5, -1.25}, Radius: 3.5},
			{Center: mgl32.Vec3{0, -2.5, -2}, Radius: 4},
		},
		Count: MaxShapes,
	}
}

// Active returns the active spheres.
func (s *ShapeSet) Active() []Sphere {
	n := min(max(s.Count, 0), MaxShapes)
	return s.Spheres[:n]
}

// AppendBytes appends the little-endian uniform encoding of s to dst.
// Inactive slots are encoded with whatever values they hold.
func (s *ShapeSet) AppendBytes(dst []byte) []byte {
	var buf [ShapesSize]byte
	le := binary.LittleEndian
	for i, sp := range s.Spheres {
		off := i * 16
		putVec3(buf[off:off+12], sp.Center)
		le.PutUint32(buf[off+12:off+16], math.Float32bits(sp.Radius))
	}
	le.PutUint32(buf[MaxShapes*16:], uint32(min(max(s.Count, 0), MaxShapes))) //nolint:gosec // clamped to [0, MaxShapes]
	return append(dst, buf[:]...)
}

// Distance evaluates the blended signed distance from p to the active
// spheres, using the same polynomial smooth union as the density kernel.
// Slots at or beyond Count never contribute. With no active sphere the
// distance is +Inf.
func (s *ShapeSet) Distance(p mgl32.Vec3, k float32) float32 {
	d := math32.Inf(1)
	for i, sp := range s.Active() {
		ds := p.Sub(sp.Center).Len() - sp.Radius
		if i == 0 {
			d = ds
			continue
		}
		d = smoothMin(d, ds, k)
	}
	return d
}

// smoothMin is the polynomial smooth minimum. k <= 0 degenerates to min.
func smoothMin(a, b, k float32) float32 {
	if k <= 0 {
		return math32.Min(a, b)
	}
	h := math32.Max(k-math32.Abs(a-b), 0) / k
	return math32.Min(a, b) - h*h*k*0.25
}
