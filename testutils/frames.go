// Package testutils has helpers shared by the engine package tests.
package testutils

import (
	"image"
	"image/color"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"

	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/rimage"
	"github.com/identify/scanengine/rimage/transform"
	"github.com/identify/scanengine/spatialmath"
)

// SyntheticFrameConfig describes a generated frame.
type SyntheticFrameConfig struct {
	// Index offsets the timestamp and camera position so consecutive frames differ.
	Index int
	// Valid depth samples come first in row-major order, followed by Invalid zero-depth samples.
	Valid   int
	Invalid int
	// DepthWidth defaults to Valid+Invalid, giving a single row.
	DepthWidth int
	// ColorScale is the color to depth resolution ratio. Defaults to 2.
	ColorScale int
	Depth      float32
	// LowConfidence marks that many of the valid samples, starting from the first, as low
	// confidence. All other samples are high confidence.
	LowConfidence int
}

// SyntheticFrame builds a frame looking down +z at a flat wall. The color image is a horizontal
// red gradient so sampled colors vary by column.
func SyntheticFrame(cfg SyntheticFrameConfig) *frame.Frame {
	total := cfg.Valid + cfg.Invalid
	width := cfg.DepthWidth
	if width <= 0 {
		width = total
	}
	height := (total + width - 1) / width
	if cfg.ColorScale <= 0 {
		cfg.ColorScale = 2
	}
	if cfg.Depth == 0 {
		cfg.Depth = 1.5
	}

	depth := rimage.NewEmptyDepthMap(width, height)
	conf := rimage.NewUniformConfidenceMap(width, height, 2)
	for i := 0; i < cfg.Valid; i++ {
		depth.Set(i%width, i/width, cfg.Depth)
		if i < cfg.LowConfidence {
			conf.Set(i%width, i/width, 0)
		}
	}

	colorW, colorH := width*cfg.ColorScale, height*cfg.ColorScale
	img := image.NewNRGBA(image.Rect(0, 0, colorW, colorH))
	for y := 0; y < colorH; y++ {
		for x := 0; x < colorW; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / max(1, colorW-1)), G: 64, B: uint8(y), A: 255})
		}
	}

	return &frame.Frame{
		Color:      img,
		Depth:      depth,
		Confidence: conf,
		Intrinsics: &transform.PinholeCameraIntrinsics{
			Width:  colorW,
			Height: colorH,
			Fx:     float64(colorW),
			Fy:     float64(colorW),
			Ppx:    float64(colorW-1) / 2,
			Ppy:    float64(colorH-1) / 2,
		},
		Pose:      spatialmath.NewPose(r3.Vector{X: 0.01 * float64(cfg.Index)}, mgl64.QuatIdent()),
		Timestamp: time.Duration(cfg.Index) * 33 * time.Millisecond,
	}
}
