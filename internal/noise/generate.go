package noise

import (
	"fmt"
	"math/rand/v2"

	"github.com/chewxy/math32"
)

// DefaultSize is the edge length of a generated volume.
const DefaultSize = 64

// Generate builds a size^3 gradient noise volume. Each channel holds one
// octave, red the lowest, so the kernel can weight octaves independently.
// The same seed always yields the same volume.
func Generate(size uint32, seed uint64) (*Volume, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: generate size 0", ErrEmptyVolume)
	}

	g := newGradientField(seed)
	v := &Volume{
		Width:  size,
		Height: size,
		Depth:  size,
		Texels: make([]byte, 0, uint64(size)*uint64(size)*uint64(size)*BytesPerTexel),
	}

	base := 4 / float32(size)
	for z := range size {
		for y := range size {
			for x := range size {
				px, py, pz := float32(x)*base, float32(y)*base, float32(z)*base
				var texel [4]byte
				freq := float32(1)
				for c := range texel {
					n := g.at(px*freq, py*freq, pz*freq)
					texel[c] = toUnorm8(n*0.5 + 0.5)
					freq *= 2
				}
				v.Texels = append(v.Texels, texel[:]...)
			}
		}
	}
	return v, nil
}

func toUnorm8(f float32) byte {
	f = math32.Max(0, math32.Min(1, f))
	return byte(f*255 + 0.5)
}

// gradientField is classic 3D gradient noise over a shuffled lattice.
type gradientField struct {
	perm [512]uint8
}

func newGradientField(seed uint64) *gradientField {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var p [256]uint8
	for i := range p {
		p[i] = uint8(i) //nolint:gosec // i < 256
	}
	r.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })

	g := &gradientField{}
	for i := range g.perm {
		g.perm[i] = p[i&255]
	}
	return g
}

func (g *gradientField) at(x, y, z float32) float32 {
	fx, fy, fz := math32.Floor(x), math32.Floor(y), math32.Floor(z)
	xi, yi, zi := int(fx)&255, int(fy)&255, int(fz)&255
	x, y, z = x-fx, y-fy, z-fz
	u, v, w := fade(x), fade(y), fade(z)

	p := &g.perm
	a := int(p[xi]) + yi
	aa, ab := int(p[a])+zi, int(p[a+1])+zi
	b := int(p[xi+1]) + yi
	ba, bb := int(p[b])+zi, int(p[b+1])+zi

	return lerp(w,
		lerp(v,
			lerp(u, grad(p[aa], x, y, z), grad(p[ba], x-1, y, z)),
			lerp(u, grad(p[ab], x, y-1, z), grad(p[bb], x-1, y-1, z))),
		lerp(v,
			lerp(u, grad(p[aa+1], x, y, z-1), grad(p[ba+1], x-1, y, z-1)),
			lerp(u, grad(p[ab+1], x, y-1, z-1), grad(p[bb+1], x-1, y-1, z-1))))
}

func fade(t float32) float32 { return t * t * t * (t*(t*6-15) + 10) }

func lerp(t, a, b float32) float32 { return a + t*(b-a) }

func grad(hash uint8, x, y, z float32) float32 {
	h := hash & 15
	u := y
	if h < 8 {
		u = x
	}
	var v float32
	switch {
	case h < 4:
		v = y
	case h == 12 || h == 14:
		v = x
	default:
		v = z
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}
