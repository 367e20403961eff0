package rimage

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ConvertToNRGBA returns img as an *image.NRGBA with bounds starting at the origin. Images that
// already are are returned as is.
func ConvertToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(img)
}

// Sampling selects how a color is read at a fractional pixel position.
type Sampling int

const (
	// SampleNearest reads the pixel whose center is closest.
	SampleNearest Sampling = iota
	// SampleBilinear blends the four surrounding pixel centers.
	SampleBilinear
)

// SamplingFromString parses "nearest" or "bilinear". The empty string is nearest.
func SamplingFromString(s string) (Sampling, error) {
	switch strings.ToLower(s) {
	case "", "nearest":
		return SampleNearest, nil
	case "bilinear":
		return SampleBilinear, nil
	}
	return SampleNearest, errors.Errorf("unknown sampling %q", s)
}

func (s Sampling) String() string {
	if s == SampleBilinear {
		return "bilinear"
	}
	return "nearest"
}

// SampleColor reads img at the fractional pixel position (x, y), where integer coordinates are
// pixel centers. Positions outside the image clamp to the border.
func SampleColor(img *image.NRGBA, x, y float64, mode Sampling) color.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if mode == SampleNearest {
		return nrgbaAt(img, clampInt(int(math.Round(x)), w), clampInt(int(math.Round(y)), h))
	}

	x0f, y0f := math.Floor(x), math.Floor(y)
	fx, fy := x-x0f, y-y0f
	x0, y0 := int(x0f), int(y0f)
	c00 := nrgbaAt(img, clampInt(x0, w), clampInt(y0, h))
	c10 := nrgbaAt(img, clampInt(x0+1, w), clampInt(y0, h))
	c01 := nrgbaAt(img, clampInt(x0, w), clampInt(y0+1, h))
	c11 := nrgbaAt(img, clampInt(x0+1, w), clampInt(y0+1, h))

	lerp := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bottom := float64(c)*(1-fx) + float64(d)*fx
		return uint8(math.Round(top*(1-fy) + bottom*fy))
	}
	return color.NRGBA{
		R: lerp(c00.R, c10.R, c01.R, c11.R),
		G: lerp(c00.G, c10.G, c01.G, c11.G),
		B: lerp(c00.B, c10.B, c01.B, c11.B),
		A: lerp(c00.A, c10.A, c01.A, c11.A),
	}
}

func nrgbaAt(img *image.NRGBA, x, y int) color.NRGBA {
	i := img.PixOffset(x+img.Rect.Min.X, y+img.Rect.Min.Y)
	s := img.Pix[i : i+4 : i+4]
	return color.NRGBA{R: s[0], G: s[1], B: s[2], A: s[3]}
}

func clampInt(v, size int) int {
	if v < 0 {
		return 0
	}
	if v >= size {
		return size - 1
	}
	return v
}
