// Package frame defines the synchronized capture a tracking session delivers each sensor tick and
// the contract such a source fulfils.
package frame

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/identify/scanengine/rimage"
	"github.com/identify/scanengine/rimage/transform"
	"github.com/identify/scanengine/spatialmath"
)

var (
	// ErrMalformedFrame is returned for frames whose parts are missing or inconsistent.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrTrackingLost is reported by a source when the tracking session fails. It is retryable
	// through Source.Reset.
	ErrTrackingLost = errors.New("tracking lost")
)

// Convention describes the axes of the camera frame a pose is expressed in.
type Convention int

const (
	// ConventionImage has x right, y down and z forward.
	ConventionImage Convention = iota
	// ConventionARKit has x right, y up and z backward.
	ConventionARKit
)

func (c Convention) String() string {
	if c == ConventionARKit {
		return "arkit"
	}
	return "image"
}

// Frame is one synchronized capture. It must not be modified after delivery.
type Frame struct {
	Color      image.Image
	Depth      *rimage.DepthMap
	Confidence *rimage.ConfidenceMap
	// Intrinsics are expressed at the color image resolution.
	Intrinsics *transform.PinholeCameraIntrinsics
	// Pose maps camera coordinates to world coordinates.
	Pose       spatialmath.Pose
	Convention Convention
	// Timestamp is monotonic time since an arbitrary origin.
	Timestamp time.Duration
}

// Validate checks that every part is present and consistently sized. Pose and intrinsics ranges
// are checked by the consumers that need them.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.Wrap(ErrMalformedFrame, "nil frame")
	}
	if f.Color == nil || f.Color.Bounds().Empty() {
		return errors.Wrap(ErrMalformedFrame, "missing color image")
	}
	if f.Depth == nil {
		return errors.Wrap(ErrMalformedFrame, "missing depth map")
	}
	if f.Depth.Width() == 0 || f.Depth.Height() == 0 {
		return errors.Wrap(ErrMalformedFrame, "empty depth map")
	}
	if f.Confidence != nil &&
		(f.Confidence.Width() != f.Depth.Width() || f.Confidence.Height() != f.Depth.Height()) {
		return errors.Wrapf(ErrMalformedFrame, "confidence map %dx%d does not match depth map %dx%d",
			f.Confidence.Width(), f.Confidence.Height(), f.Depth.Width(), f.Depth.Height())
	}
	if f.Intrinsics == nil {
		return errors.Wrap(ErrMalformedFrame, "missing intrinsics")
	}
	if b := f.Color.Bounds(); f.Intrinsics.Width != b.Dx() || f.Intrinsics.Height != b.Dy() {
		return errors.Wrapf(ErrMalformedFrame, "intrinsics are for %dx%d but color image is %dx%d",
			f.Intrinsics.Width, f.Intrinsics.Height, b.Dx(), b.Dy())
	}
	return nil
}

// ImagePose returns the camera-to-world pose with image convention camera axes.
func (f *Frame) ImagePose() spatialmath.Pose {
	if f.Convention == ConventionARKit {
		return f.Pose.FromARKitCamera()
	}
	return f.Pose
}

// Handler receives deliveries from a Source.
type Handler interface {
	// HandleFrame is called once per delivered frame. It must not block for long.
	HandleFrame(ctx context.Context, f *Frame)
	// HandleFailure is called when the session fails, typically with ErrTrackingLost.
	HandleFailure(err error)
}

// ResetOptions control what a reset discards.
type ResetOptions struct {
	ResetTracking       bool
	ResetReconstruction bool
}

// Source delivers frames to a handler at its own cadence.
type Source interface {
	// Start begins delivering to h until ctx is done or Close is called.
	Start(ctx context.Context, h Handler) error
	// Reset restarts the tracking session after a failure.
	Reset(ctx context.Context, opts ResetOptions) error
	Close(ctx context.Context) error
}
