// Package render draws the live camera image and the accumulated point cloud into a framebuffer
// once per display tick.
package render

import (
	"image"
	"image/draw"
	"math"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoDevice is returned at startup when no render device is available. It is fatal.
var ErrNoDevice = errors.New("no compatible render device")

// Device allocates framebuffers and presents finished ones.
type Device interface {
	Name() string
	// NewFramebuffer allocates a framebuffer of the given size. It is only called between draws.
	NewFramebuffer(size image.Point) (*Framebuffer, error)
	// Present hands a finished framebuffer to the display. A failure drops the tick.
	Present(fb *Framebuffer) error
}

// Framebuffer is a color target with a 32-bit depth buffer of the same size.
type Framebuffer struct {
	Color *image.RGBA
	Depth []float32
}

// NewFramebuffer returns a cleared framebuffer.
func NewFramebuffer(size image.Point) (*Framebuffer, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid framebuffer size %v", size)
	}
	fb := &Framebuffer{
		Color: image.NewRGBA(image.Rectangle{Max: size}),
		Depth: make([]float32, size.X*size.Y),
	}
	fb.Clear()
	return fb, nil
}

// Size returns the framebuffer dimensions.
func (fb *Framebuffer) Size() image.Point {
	return fb.Color.Rect.Size()
}

// Clear fills color with opaque black and depth with +Inf.
func (fb *Framebuffer) Clear() {
	draw.Draw(fb.Color, fb.Color.Rect, image.Black, image.Point{}, draw.Src)
	far := float32(math.Inf(1))
	for i := range fb.Depth {
		fb.Depth[i] = far
	}
}

// depthTest reports whether a fragment at depth z wins pixel (x, y), and records z if so.
func (fb *Framebuffer) depthTest(x, y int, z float32) bool {
	idx := y*fb.Color.Rect.Dx() + x
	if z >= fb.Depth[idx] {
		return false
	}
	fb.Depth[idx] = z
	return true
}

// SoftwareDevice renders on the CPU and keeps a copy of the last presented frame.
type SoftwareDevice struct {
	mu        sync.Mutex
	presented *image.RGBA
	count     int
}

// NewSoftwareDevice returns a CPU device.
func NewSoftwareDevice() *SoftwareDevice {
	return &SoftwareDevice{}
}

// Name returns "software".
func (d *SoftwareDevice) Name() string {
	return "software"
}

// NewFramebuffer allocates a framebuffer in memory.
func (d *SoftwareDevice) NewFramebuffer(size image.Point) (*Framebuffer, error) {
	return NewFramebuffer(size)
}

// Present copies the color target.
func (d *SoftwareDevice) Present(fb *Framebuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.presented == nil || d.presented.Rect != fb.Color.Rect {
		d.presented = image.NewRGBA(fb.Color.Rect)
	}
	copy(d.presented.Pix, fb.Color.Pix)
	d.count++
	return nil
}

// Presented returns a copy of the last presented image and how many frames were presented.
func (d *SoftwareDevice) Presented() (image.Image, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.presented == nil {
		return nil, d.count
	}
	out := image.NewRGBA(d.presented.Rect)
	copy(out.Pix, d.presented.Pix)
	return out, d.count
}
