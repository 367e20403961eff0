// Package rimage holds the raster types a frame carries alongside its color image: depth maps,
// confidence maps and color sampling helpers.
package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// DepthMap is a row-major raster of depths in meters. Zero, NaN and Inf mark missing samples.
type DepthMap struct {
	width  int
	height int

	data []float32
}

// NewEmptyDepthMap returns a zeroed depth map.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]float32, width*height),
	}
}

// NewDepthMapFromData wraps row-major depths. The slice is not copied.
func NewDepthMapFromData(width, height int, data []float32) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid depth map size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("depth map %dx%d needs %d samples, got %d", width, height, width*height, len(data))
	}
	return &DepthMap{width: width, height: height, data: data}, nil
}

// Width returns the horizontal size in pixels.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size in pixels.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle (0, 0)-(width, height).
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// Contains reports whether (x, y) is inside the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// GetDepth returns the depth at (x, y) in meters.
func (dm *DepthMap) GetDepth(x, y int) float32 {
	return dm.data[y*dm.width+x]
}

// Set stores a depth at (x, y).
func (dm *DepthMap) Set(x, y int, depth float32) {
	dm.data[y*dm.width+x] = depth
}

// Data exposes the underlying row-major samples.
func (dm *DepthMap) Data() []float32 {
	return dm.data
}

// ValidDepth reports whether a sample holds a usable measurement.
func ValidDepth(d float32) bool {
	return d > 0 && !math.IsNaN(float64(d)) && !math.IsInf(float64(d), 0)
}

// MinMax returns the smallest and largest valid depth. ok is false when no sample is valid.
func (dm *DepthMap) MinMax() (lo, hi float32, ok bool) {
	for _, d := range dm.data {
		if !ValidDepth(d) {
			continue
		}
		if !ok {
			lo, hi, ok = d, d, true
			continue
		}
		lo = min(lo, d)
		hi = max(hi, d)
	}
	return lo, hi, ok
}
