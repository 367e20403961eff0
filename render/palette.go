package render

import (
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/identify/scanengine/pointcloud"
)

// ColorMode selects how points are shaded.
type ColorMode int

const (
	// ColorModeRGB shades points with the camera color sampled at unprojection.
	ColorModeRGB ColorMode = iota
	// ColorModeConfidence shades points from red for low to green for high confidence.
	ColorModeConfidence
)

// ColorModeFromString parses "rgb" or "confidence". The empty string is rgb.
func ColorModeFromString(s string) (ColorMode, error) {
	switch strings.ToLower(s) {
	case "", "rgb":
		return ColorModeRGB, nil
	case "confidence":
		return ColorModeConfidence, nil
	}
	return ColorModeRGB, errors.Errorf("unknown color mode %q", s)
}

var (
	lowConfidenceColor  = colorful.Color{R: 0.843, G: 0.188, B: 0.122}
	highConfidenceColor = colorful.Color{R: 0.102, G: 0.596, B: 0.314}

	confidenceColors = confidencePalette(lowConfidenceColor, highConfidenceColor)
)

// confidencePalette spaces one color per confidence class evenly between low and high in Lab.
func confidencePalette(low, high colorful.Color) [pointcloud.ConfidenceHigh + 1]color.NRGBA {
	var palette [pointcloud.ConfidenceHigh + 1]color.NRGBA
	for c := range palette {
		t := float64(c) / float64(pointcloud.ConfidenceHigh)
		r, g, b := low.BlendLab(high, t).Clamped().RGB255()
		palette[c] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
	return palette
}

// shade returns the color p is drawn with.
func (r *Renderer) shade(p pointcloud.Point) color.NRGBA {
	if r.cfg.ColorMode == ColorModeConfidence && p.Confidence.Valid() {
		return confidenceColors[p.Confidence]
	}
	return p.Color
}
