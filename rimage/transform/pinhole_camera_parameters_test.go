package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestCheckValid(t *testing.T) {
	var nilIntrinsics *PinholeCameraIntrinsics
	test.That(t, errors.Is(nilIntrinsics.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	good := PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	for _, tc := range []struct {
		name   string
		mutate func(p *PinholeCameraIntrinsics)
		msg    string
	}{
		{"zero size", func(p *PinholeCameraIntrinsics) { p.Width = 0 }, "Invalid size"},
		{"negative fx", func(p *PinholeCameraIntrinsics) { p.Fx = -1 }, "Fx"},
		{"zero fy", func(p *PinholeCameraIntrinsics) { p.Fy = 0 }, "Fy"},
		{"nan ppx", func(p *PinholeCameraIntrinsics) { p.Ppx = math.NaN() }, "Non-finite"},
		{"ppx outside image", func(p *PinholeCameraIntrinsics) { p.Ppx = 700 }, "Ppx"},
		{"ppy negative", func(p *PinholeCameraIntrinsics) { p.Ppy = -3 }, "Ppy"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bad := good
			tc.mutate(&bad)
			err := bad.CheckValid()
			test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}

func TestPixelPointRoundTrip(t *testing.T) {
	params := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 450, Ppx: 320, Ppy: 240, Skew: 2}

	center := params.PixelToPoint(320, 240, 2)
	test.That(t, center.X, test.ShouldAlmostEqual, 0)
	test.That(t, center.Y, test.ShouldAlmostEqual, 0)
	test.That(t, center.Z, test.ShouldEqual, 2)

	pt := params.PixelToPoint(100, 50, 1.5)
	x, y, ok := params.PointToPixel(pt)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, x, test.ShouldAlmostEqual, 100)
	test.That(t, y, test.ShouldAlmostEqual, 50)

	_, _, ok = params.PointToPixel(r3.Vector{X: 1, Z: -1})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestMatrixAndScaled(t *testing.T) {
	params := &PinholeCameraIntrinsics{Width: 256, Height: 192, Fx: 200, Fy: 210, Ppx: 127.5, Ppy: 95.5}
	fromK := NewPinholeCameraIntrinsicsFromMatrix(256, 192, params.Matrix())
	test.That(t, fromK, test.ShouldResemble, params)

	// Doubling the resolution keeps the principal point at the image center.
	scaled := params.Scaled(512, 384)
	test.That(t, scaled.Fx, test.ShouldEqual, 400)
	test.That(t, scaled.Fy, test.ShouldEqual, 420)
	test.That(t, scaled.Ppx, test.ShouldEqual, 255.5)
	test.That(t, scaled.Ppy, test.ShouldEqual, 191.5)
	test.That(t, scaled.CheckValid(), test.ShouldBeNil)
}
