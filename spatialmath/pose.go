// Package spatialmath defines rigid camera poses and the point transforms built on them.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegeneratePose is returned when a pose cannot be used as a rigid transform.
var ErrDegeneratePose = errors.New("degenerate pose")

const (
	// maxRotationCondition bounds the 2-norm condition number of the rotation block.
	maxRotationCondition = 1e6
	homogeneousTolerance = 1e-6
	// orthonormalTolerance allows for the float32 rounding of tracker poses.
	orthonormalTolerance = 1e-3
)

// Pose is a 4x4 homogeneous transform taking points from a camera frame to the world frame.
type Pose struct {
	mat mgl64.Mat4
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{mgl64.Ident4()}
}

// NewPoseFromMatrix wraps a column-major homogeneous matrix.
func NewPoseFromMatrix(m mgl64.Mat4) Pose {
	return Pose{m}
}

// NewPoseFromRows builds a pose from a row-major 4x4 array, as delivered by most trackers.
func NewPoseFromRows(rows [4][4]float64) Pose {
	var m mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, rows[r][c])
		}
	}
	return Pose{m}
}

// NewPose builds a pose from a translation and a rotation.
func NewPose(translation r3.Vector, rotation mgl64.Quat) Pose {
	m := rotation.Normalize().Mat4()
	m.SetCol(3, mgl64.Vec4{translation.X, translation.Y, translation.Z, 1})
	return Pose{m}
}

// Matrix returns the column-major homogeneous matrix.
func (p Pose) Matrix() mgl64.Mat4 {
	return p.mat
}

// Rows returns the pose as a row-major 4x4 array.
func (p Pose) Rows() [4][4]float64 {
	var rows [4][4]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			rows[r][c] = p.mat.At(r, c)
		}
	}
	return rows
}

// Point returns the translation component.
func (p Pose) Point() r3.Vector {
	t := p.mat.Col(3)
	return r3.Vector{X: t[0], Y: t[1], Z: t[2]}
}

// Rotation returns the upper left 3x3 block.
func (p Pose) Rotation() mgl64.Mat3 {
	return p.mat.Mat3()
}

// Validate returns ErrDegeneratePose if the pose has non-finite entries, is not homogeneous, or
// has a rotation block that is singular, not orthonormal, or a reflection.
func (p Pose) Validate() error {
	for _, v := range p.mat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrap(ErrDegeneratePose, "non-finite entry")
		}
	}
	lastRow := p.mat.Row(3)
	if !lastRow.ApproxEqualThreshold(mgl64.Vec4{0, 0, 0, 1}, homogeneousTolerance) {
		return errors.Wrapf(ErrDegeneratePose, "last row is %v", lastRow)
	}

	rot := p.Rotation()
	dense := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			dense.Set(r, c, rot.At(r, c))
		}
	}
	if cond := mat.Cond(dense, 2); math.IsInf(cond, 1) || cond > maxRotationCondition {
		return errors.Wrapf(ErrDegeneratePose, "rotation condition number %g", cond)
	}
	var gram mat.Dense
	gram.Mul(dense.T(), dense)
	if !mat.EqualApprox(&gram, mat.NewDiagDense(3, []float64{1, 1, 1}), orthonormalTolerance) {
		return errors.Wrap(ErrDegeneratePose, "rotation block is not orthonormal")
	}
	if det := mat.Det(dense); det < 0 {
		return errors.Wrap(ErrDegeneratePose, "rotation block is a reflection")
	}
	return nil
}

// Transform maps a point from the pose's local frame into its parent frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	out := p.mat.Mul4x1(mgl64.Vec4{v.X, v.Y, v.Z, 1})
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}

// Inverse returns the inverse transform. Callers should Validate first.
func (p Pose) Inverse() Pose {
	return Pose{p.mat.Inv()}
}

// Compose returns p followed by other in p's local frame, i.e. p * other.
func (p Pose) Compose(other Pose) Pose {
	return Pose{p.mat.Mul4(other.mat)}
}

// arkitToImage flips the y and z camera axes.
var arkitToImage = mgl64.Diag4(mgl64.Vec4{1, -1, -1, 1})

// FromARKitCamera converts a camera pose whose local axes are x right, y up, z backward into one
// whose local axes are x right, y down, z forward. The camera position is unchanged.
func (p Pose) FromARKitCamera() Pose {
	return Pose{p.mat.Mul4(arkitToImage)}
}

// TranslationBetween is the distance between the origins of two poses.
func TranslationBetween(a, b Pose) float64 {
	return a.Point().Distance(b.Point())
}

// RotationBetween is the angle in degrees of the relative rotation between two poses.
func RotationBetween(a, b Pose) float64 {
	rel := a.Rotation().Transpose().Mul3(b.Rotation())
	cos := (rel.Trace() - 1) / 2
	cos = math.Max(-1, math.Min(1, cos))
	return mgl64.RadToDeg(math.Acos(cos))
}
