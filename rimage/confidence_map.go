package rimage

import (
	"github.com/pkg/errors"
)

// ConfidenceMap is a row-major raster of per-depth-sample confidence levels (0 low, 1 medium,
// 2 high).
type ConfidenceMap struct {
	width  int
	height int

	data []uint8
}

// NewConfidenceMapFromData wraps row-major confidence levels. The slice is not copied.
func NewConfidenceMapFromData(width, height int, data []uint8) (*ConfidenceMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid confidence map size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("confidence map %dx%d needs %d samples, got %d", width, height, width*height, len(data))
	}
	return &ConfidenceMap{width: width, height: height, data: data}, nil
}

// NewUniformConfidenceMap returns a map with every sample at level.
func NewUniformConfidenceMap(width, height int, level uint8) *ConfidenceMap {
	data := make([]uint8, width*height)
	for i := range data {
		data[i] = level
	}
	return &ConfidenceMap{width: width, height: height, data: data}
}

// Width returns the horizontal size in pixels.
func (cm *ConfidenceMap) Width() int {
	return cm.width
}

// Height returns the vertical size in pixels.
func (cm *ConfidenceMap) Height() int {
	return cm.height
}

// Get returns the level at (x, y).
func (cm *ConfidenceMap) Get(x, y int) uint8 {
	return cm.data[y*cm.width+x]
}

// Set stores a level at (x, y).
func (cm *ConfidenceMap) Set(x, y int, level uint8) {
	cm.data[y*cm.width+x] = level
}

// Data exposes the underlying row-major levels.
func (cm *ConfidenceMap) Data() []uint8 {
	return cm.data
}
