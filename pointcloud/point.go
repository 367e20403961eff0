// Package pointcloud defines colored, confidence tagged points, the bounded accumulator that
// collects them across frames, and the file formats they are exported to.
package pointcloud

import (
	"image/color"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Confidence is the reliability class of the depth sample a point came from.
type Confidence uint8

const (
	// ConfidenceLow is the least reliable class.
	ConfidenceLow Confidence = iota
	// ConfidenceMedium is a usable but noisy sample.
	ConfidenceMedium
	// ConfidenceHigh is the most reliable class.
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	}
	return "unknown"
}

// Valid reports whether c is one of the three known classes.
func (c Confidence) Valid() bool {
	return c <= ConfidenceHigh
}

// ConfidenceFromString parses "low", "medium" or "high", case-insensitively.
func ConfidenceFromString(s string) (Confidence, error) {
	switch strings.ToLower(s) {
	case "low":
		return ConfidenceLow, nil
	case "medium":
		return ConfidenceMedium, nil
	case "high":
		return ConfidenceHigh, nil
	}
	return ConfidenceLow, errors.Errorf("unknown confidence %q", s)
}

// Point is a world-space position in meters with the color and confidence it was captured with.
type Point struct {
	Position   r3.Vector
	Color      color.NRGBA
	Confidence Confidence
}

// NewPoint builds an opaque point.
func NewPoint(x, y, z float64, r, g, b uint8, conf Confidence) Point {
	return Point{
		Position:   r3.Vector{X: x, Y: y, Z: z},
		Color:      color.NRGBA{R: r, G: g, B: b, A: 255},
		Confidence: conf,
	}
}

// PackedRGB returns the color as 0x00RRGGBB, the layout PCD readers expect for an rgb field.
func (p Point) PackedRGB() uint32 {
	return uint32(p.Color.R)<<16 | uint32(p.Color.G)<<8 | uint32(p.Color.B)
}

// UnpackRGB is the inverse of PackedRGB. Alpha is always opaque.
func UnpackRGB(c uint32) color.NRGBA {
	return color.NRGBA{
		R: uint8(0xFF & (c >> 16)),
		G: uint8(0xFF & (c >> 8)),
		B: uint8(0xFF & c),
		A: 255,
	}
}

// MetaData is data about a set of points.
type MetaData struct {
	Count int

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	// PerConfidence counts points by confidence class.
	PerConfidence [3]int
}

// NewMetaData returns metadata for an empty set, with inverted bounds ready for Merge.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge folds one point into the metadata.
func (meta *MetaData) Merge(p Point) {
	meta.Count++
	meta.MinX = math.Min(meta.MinX, p.Position.X)
	meta.MaxX = math.Max(meta.MaxX, p.Position.X)
	meta.MinY = math.Min(meta.MinY, p.Position.Y)
	meta.MaxY = math.Max(meta.MaxY, p.Position.Y)
	meta.MinZ = math.Min(meta.MinZ, p.Position.Z)
	meta.MaxZ = math.Max(meta.MaxZ, p.Position.Z)
	if p.Confidence.Valid() {
		meta.PerConfidence[p.Confidence]++
	}
}
