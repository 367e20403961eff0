package spatialmath

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestPoseTransformAndInverse(t *testing.T) {
	rot := mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	pose := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, rot)
	test.That(t, pose.Validate(), test.ShouldBeNil)
	test.That(t, pose.Point(), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	// +x rotates onto +y, then translates.
	out := pose.Transform(r3.Vector{X: 1})
	test.That(t, out.X, test.ShouldAlmostEqual, 1)
	test.That(t, out.Y, test.ShouldAlmostEqual, 3)
	test.That(t, out.Z, test.ShouldAlmostEqual, 3)

	back := pose.Inverse().Transform(out)
	test.That(t, back.X, test.ShouldAlmostEqual, 1)
	test.That(t, back.Y, test.ShouldAlmostEqual, 0)
	test.That(t, back.Z, test.ShouldAlmostEqual, 0)

	identity := pose.Compose(pose.Inverse())
	test.That(t, identity.Matrix().ApproxEqualThreshold(mgl64.Ident4(), 1e-9), test.ShouldBeTrue)
}

func TestPoseRows(t *testing.T) {
	rows := [4][4]float64{
		{1, 0, 0, 5},
		{0, 1, 0, 6},
		{0, 0, 1, 7},
		{0, 0, 0, 1},
	}
	pose := NewPoseFromRows(rows)
	test.That(t, pose.Point(), test.ShouldResemble, r3.Vector{X: 5, Y: 6, Z: 7})
	test.That(t, pose.Rows(), test.ShouldResemble, rows)
}

func TestPoseValidate(t *testing.T) {
	test.That(t, NewZeroPose().Validate(), test.ShouldBeNil)
	test.That(t, NewZeroPose().FromARKitCamera().Validate(), test.ShouldBeNil)
	// float32 rounding of a rotated pose is tolerated
	rounded := NewPose(r3.Vector{}, mgl64.QuatRotate(0.3, mgl64.Vec3{1, 1, 0}.Normalize())).Rows()
	for r := range rounded {
		for c := range rounded[r] {
			rounded[r][c] = float64(float32(rounded[r][c]))
		}
	}
	test.That(t, NewPoseFromRows(rounded).Validate(), test.ShouldBeNil)

	for _, tc := range []struct {
		name string
		rows [4][4]float64
	}{
		{"nan", [4][4]float64{{math.NaN(), 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}},
		{"inf translation", [4][4]float64{{1, 0, 0, math.Inf(1)}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}},
		{"projective row", [4][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 1, 1}}},
		{"singular", [4][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 1}}},
		{"zero", [4][4]float64{}},
		{"scaled", [4][4]float64{{2, 0, 0, 0}, {0, 2, 0, 0}, {0, 0, 2, 0}, {0, 0, 0, 1}}},
		{"sheared", [4][4]float64{{1, 0.5, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}},
		{"reflection", [4][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, -1, 0}, {0, 0, 0, 1}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := NewPoseFromRows(tc.rows).Validate()
			test.That(t, errors.Is(err, ErrDegeneratePose), test.ShouldBeTrue)
		})
	}
}

func TestFromARKitCamera(t *testing.T) {
	pose := NewPose(r3.Vector{X: 1}, mgl64.QuatIdent()).FromARKitCamera()
	test.That(t, pose.Point(), test.ShouldResemble, r3.Vector{X: 1})

	// One meter in front of an image convention camera is -z for an ARKit camera at identity.
	ahead := pose.Transform(r3.Vector{Z: 1})
	test.That(t, ahead.X, test.ShouldAlmostEqual, 1)
	test.That(t, ahead.Z, test.ShouldAlmostEqual, -1)
	down := pose.Transform(r3.Vector{Y: 1})
	test.That(t, down.Y, test.ShouldAlmostEqual, -1)
}

func TestMotionBetween(t *testing.T) {
	a := NewZeroPose()
	b := NewPose(r3.Vector{X: 3, Y: 4}, mgl64.QuatRotate(mgl64.DegToRad(30), mgl64.Vec3{0, 1, 0}))
	test.That(t, TranslationBetween(a, b), test.ShouldAlmostEqual, 5)
	test.That(t, RotationBetween(a, b), test.ShouldAlmostEqual, 30, 1e-4)
	test.That(t, RotationBetween(b, b), test.ShouldAlmostEqual, 0, 1e-4)
}
