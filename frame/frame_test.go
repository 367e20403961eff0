package frame

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/identify/scanengine/rimage"
	"github.com/identify/scanengine/rimage/transform"
	"github.com/identify/scanengine/spatialmath"
)

func validFrame() *Frame {
	return &Frame{
		Color:      image.NewNRGBA(image.Rect(0, 0, 8, 6)),
		Depth:      rimage.NewEmptyDepthMap(4, 3),
		Confidence: rimage.NewUniformConfidenceMap(4, 3, 2),
		Intrinsics: &transform.PinholeCameraIntrinsics{Width: 8, Height: 6, Fx: 5, Fy: 5, Ppx: 4, Ppy: 3},
		Pose:       spatialmath.NewZeroPose(),
	}
}

func TestValidate(t *testing.T) {
	test.That(t, validFrame().Validate(), test.ShouldBeNil)

	var nilFrame *Frame
	test.That(t, errors.Is(nilFrame.Validate(), ErrMalformedFrame), test.ShouldBeTrue)

	for _, tc := range []struct {
		name   string
		mutate func(f *Frame)
	}{
		{"no color", func(f *Frame) { f.Color = nil }},
		{"empty color", func(f *Frame) { f.Color = image.NewNRGBA(image.Rectangle{}) }},
		{"no depth", func(f *Frame) { f.Depth = nil }},
		{"empty depth", func(f *Frame) { f.Depth = rimage.NewEmptyDepthMap(0, 0) }},
		{"empty depth row", func(f *Frame) { f.Depth = rimage.NewEmptyDepthMap(4, 0) }},
		{"confidence size", func(f *Frame) { f.Confidence = rimage.NewUniformConfidenceMap(3, 3, 0) }},
		{"no intrinsics", func(f *Frame) { f.Intrinsics = nil }},
		{"intrinsics size", func(f *Frame) { f.Intrinsics.Width = 4 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := validFrame()
			tc.mutate(f)
			test.That(t, errors.Is(f.Validate(), ErrMalformedFrame), test.ShouldBeTrue)
		})
	}

	// Confidence is optional.
	f := validFrame()
	f.Confidence = nil
	test.That(t, f.Validate(), test.ShouldBeNil)
}

func TestImagePose(t *testing.T) {
	f := validFrame()
	test.That(t, f.ImagePose(), test.ShouldResemble, f.Pose)

	f.Convention = ConventionARKit
	test.That(t, f.ImagePose(), test.ShouldResemble, f.Pose.FromARKitCamera())
	test.That(t, f.Convention.String(), test.ShouldEqual, "arkit")
}
