// Package inject provides fakes whose behavior tests can override one method at a time.
package inject

import (
	"image"

	"github.com/identify/scanengine/render"
)

// Device is an injected render device.
type Device struct {
	render.Device
	NameFunc           func() string
	NewFramebufferFunc func(size image.Point) (*render.Framebuffer, error)
	PresentFunc        func(fb *render.Framebuffer) error
}

// Name calls the injected Name or the real version.
func (d *Device) Name() string {
	if d.NameFunc == nil {
		if d.Device == nil {
			return "inject"
		}
		return d.Device.Name()
	}
	return d.NameFunc()
}

// NewFramebuffer calls the injected NewFramebuffer or the real version. Without either it
// allocates an in-memory framebuffer.
func (d *Device) NewFramebuffer(size image.Point) (*render.Framebuffer, error) {
	if d.NewFramebufferFunc == nil {
		if d.Device == nil {
			return render.NewFramebuffer(size)
		}
		return d.Device.NewFramebuffer(size)
	}
	return d.NewFramebufferFunc(size)
}

// Present calls the injected Present or the real version.
func (d *Device) Present(fb *render.Framebuffer) error {
	if d.PresentFunc == nil {
		if d.Device == nil {
			return nil
		}
		return d.Device.Present(fb)
	}
	return d.PresentFunc(fb)
}
