// Package noise provides the static RGBA8 noise volume sampled by the
// density kernel. A volume is either decoded from an image holding its depth
// slices stacked top to bottom, or generated procedurally.
package noise

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	// Decoders for slice images.
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"golang.org/x/image/draw"
)

// BytesPerTexel is the size of one RGBA8 texel.
const BytesPerTexel = 4

var (
	// ErrEmptyVolume is returned for a volume with a zero dimension.
	ErrEmptyVolume = errors.New("noise: volume has a zero dimension")

	// ErrSliceLayout is returned when an image cannot be split into the
	// requested number of slices.
	ErrSliceLayout = errors.New("noise: image height is not a multiple of the slice count")
)

// Volume is a tightly packed RGBA8 3D texture, x fastest, then y, then z.
type Volume struct {
	Width, Height, Depth uint32
	Texels               []byte
}

// Validate checks the dimensions against the texel data.
func (v *Volume) Validate() error {
	if v.Width == 0 || v.Height == 0 || v.Depth == 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrEmptyVolume, v.Width, v.Height, v.Depth)
	}
	want := uint64(v.Width) * uint64(v.Height) * uint64(v.Depth) * BytesPerTexel
	if uint64(len(v.Texels)) != want {
		return fmt.Errorf("noise: %dx%dx%d volume needs %d bytes, has %d",
			v.Width, v.Height, v.Depth, want, len(v.Texels))
	}
	return nil
}

// BytesPerRow returns the byte stride of one row.
func (v *Volume) BytesPerRow() uint32 { return v.Width * BytesPerTexel }

// At returns the texel at (x, y, z).
func (v *Volume) At(x, y, z uint32) [4]byte {
	i := ((z*v.Height+y)*v.Width + x) * BytesPerTexel
	return [4]byte(v.Texels[i : i+4])
}

// Decode reads an image holding the depth slices of a volume stacked
// vertically, each of equal height. slices <= 0 means the slices are
// square, so the depth is height / width.
func Decode(r io.Reader, slices int) (*Volume, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("noise: decode: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: %s image %dx%d", ErrEmptyVolume, format, w, h)
	}
	if slices <= 0 {
		if h%w != 0 {
			return nil, fmt.Errorf("%w: %dx%d is not a stack of square slices", ErrSliceLayout, w, h)
		}
		slices = h / w
	}
	if h%slices != 0 {
		return nil, fmt.Errorf("%w: height %d, slices %d", ErrSliceLayout, h, slices)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	v := &Volume{
		Width:  uint32(w),          //nolint:gosec // image bounds are non-negative
		Height: uint32(h / slices), //nolint:gosec // image bounds are non-negative
		Depth:  uint32(slices),     //nolint:gosec // slices > 0
		Texels: packRows(rgba),
	}
	return v, nil
}

// Load decodes the noise image at path. See Decode for the slice layout.
func Load(path string, slices int) (*Volume, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the caller's configuration
	if err != nil {
		return nil, fmt.Errorf("noise: open: %w", err)
	}
	defer f.Close()
	return Decode(f, slices)
}

// Scale returns v resampled to w x h per slice with bilinear filtering.
// The depth is unchanged.
func (v *Volume) Scale(w, h uint32) (*Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: scale to %dx%d", ErrEmptyVolume, w, h)
	}
	if w == v.Width && h == v.Height {
		return v, nil
	}

	out := &Volume{
		Width:  w,
		Height: h,
		Depth:  v.Depth,
		Texels: make([]byte, 0, uint64(w)*uint64(h)*uint64(v.Depth)*BytesPerTexel),
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	for z := range v.Depth {
		src := v.slice(z)
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		out.Texels = append(out.Texels, packRows(dst)...)
	}
	return out, nil
}

// slice wraps slice z as an image without copying.
func (v *Volume) slice(z uint32) *image.RGBA {
	n := v.Width * v.Height * BytesPerTexel
	return &image.RGBA{
		Pix:    v.Texels[z*n : (z+1)*n],
		Stride: int(v.BytesPerRow()),
		Rect:   image.Rect(0, 0, int(v.Width), int(v.Height)),
	}
}

// packRows copies img's pixels into a tightly packed buffer.
func packRows(img *image.RGBA) []byte {
	b := img.Bounds()
	row := b.Dx() * BytesPerTexel
	out := make([]byte, 0, row*b.Dy())
	for y := range b.Dy() {
		off := y * img.Stride
		out = append(out, img.Pix[off:off+row]...)
	}
	return out
}
