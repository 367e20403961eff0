// Package transform holds camera models that map between pixels and camera-frame rays.
package transform

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined or out of range.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D
// scene to the 2D plane. Width and Height are the image size the parameters are expressed in.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px" cbor:"width_px"`
	Height int     `json:"height_px" cbor:"height_px"`
	Fx     float64 `json:"fx" cbor:"fx"`
	Fy     float64 `json:"fy" cbor:"fy"`
	Ppx    float64 `json:"ppx" cbor:"ppx"`
	Ppy    float64 `json:"ppy" cbor:"ppy"`
	Skew   float64 `json:"skew,omitempty" cbor:"skew,omitempty"`
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, skew and the principal point out of a 3x3
// camera matrix K laid out as [[fx s cx] [0 fy cy] [0 0 1]].
func NewPinholeCameraIntrinsicsFromMatrix(width, height int, k mgl64.Mat3) *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
		Skew:   k.At(0, 1),
	}
}

// Matrix returns the 3x3 camera matrix K.
func (params *PinholeCameraIntrinsics) Matrix() mgl64.Mat3 {
	var k mgl64.Mat3
	k.Set(0, 0, params.Fx)
	k.Set(0, 1, params.Skew)
	k.Set(0, 2, params.Ppx)
	k.Set(1, 1, params.Fy)
	k.Set(1, 2, params.Ppy)
	k.Set(2, 2, 1)
	return k
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	for name, v := range map[string]float64{"Fx": params.Fx, "Fy": params.Fy, "Ppx": params.Ppx, "Ppy": params.Ppy, "Skew": params.Skew} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewNoIntrinsicsError(fmt.Sprintf("Non-finite %s = %#v", name, v))
		}
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 || params.Ppx > float64(params.Width) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 || params.Ppy > float64(params.Height) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// PixelToPoint back-projects pixel (x, y) at depth z into the camera frame, computing
// z * K^-1 * (x, y, 1). The intrinsics should be those of the image the pixel came from.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) r3.Vector {
	yOverZ := (y - params.Ppy) / params.Fy
	xOverZ := (x - params.Ppx - params.Skew*yOverZ) / params.Fx
	return r3.Vector{X: xOverZ * z, Y: yOverZ * z, Z: z}
}

// PointToPixel projects a camera-frame point onto the image plane. ok is false for points at or
// behind the camera.
func (params *PinholeCameraIntrinsics) PointToPixel(p r3.Vector) (x, y float64, ok bool) {
	if p.Z <= 0 {
		return -1, -1, false
	}
	x = (p.X*params.Fx+p.Y*params.Skew)/p.Z + params.Ppx
	y = (p.Y/p.Z)*params.Fy + params.Ppy
	return x, y, true
}

// Scaled returns the intrinsics of the same camera when its image is resampled to width x height.
// Pixel centers are kept aligned.
func (params *PinholeCameraIntrinsics) Scaled(width, height int) *PinholeCameraIntrinsics {
	sx := float64(width) / float64(params.Width)
	sy := float64(height) / float64(params.Height)
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     params.Fx * sx,
		Fy:     params.Fy * sy,
		Ppx:    (params.Ppx+0.5)*sx - 0.5,
		Ppy:    (params.Ppy+0.5)*sy - 0.5,
		Skew:   params.Skew * sx,
	}
}
