// Package unproject turns depth samples of a frame into colored world-space points.
package unproject

import (
	"context"
	"image"
	"iter"

	"github.com/pkg/errors"

	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/pointcloud"
	"github.com/identify/scanengine/rimage"
	"github.com/identify/scanengine/rimage/transform"
	"github.com/identify/scanengine/spatialmath"
	"github.com/identify/scanengine/utils"
)

// ErrDegeneratePose is returned for frames whose pose cannot be inverted.
var ErrDegeneratePose = spatialmath.ErrDegeneratePose

// Config selects which depth samples become points.
type Config struct {
	// Stride visits every Stride'th row and column of the depth map.
	Stride        int
	MinConfidence pointcloud.Confidence
	// MinDepth and MaxDepth are in meters. MaxDepth of zero disables the far limit.
	MinDepth float32
	MaxDepth float32
	Sampling rimage.Sampling
}

// DefaultConfig keeps medium and high confidence samples farther than 10cm.
func DefaultConfig() Config {
	return Config{
		Stride:        1,
		MinConfidence: pointcloud.ConfidenceMedium,
		MinDepth:      0.1,
		Sampling:      rimage.SampleNearest,
	}
}

// Unprojector is stateless apart from its configuration and safe for concurrent use.
type Unprojector struct {
	cfg    Config
	logger logging.Logger
}

// New returns an Unprojector.
func New(cfg Config, logger logging.Logger) (*Unprojector, error) {
	if cfg.Stride <= 0 {
		return nil, errors.Errorf("stride must be positive, got %d", cfg.Stride)
	}
	if !cfg.MinConfidence.Valid() {
		return nil, errors.Errorf("invalid minimum confidence %d", cfg.MinConfidence)
	}
	if cfg.MaxDepth != 0 && cfg.MaxDepth <= cfg.MinDepth {
		return nil, errors.Errorf("max depth %v must exceed min depth %v", cfg.MaxDepth, cfg.MinDepth)
	}
	return &Unprojector{cfg: cfg, logger: logger}, nil
}

// Config returns the configuration in use.
func (u *Unprojector) Config() Config {
	return u.cfg
}

// prepared holds everything needed to unproject single pixels of one frame.
type prepared struct {
	cfg        Config
	color      *image.NRGBA
	depth      *rimage.DepthMap
	confidence *rimage.ConfidenceMap
	intrinsics *transform.PinholeCameraIntrinsics
	pose       spatialmath.Pose
	// depth pixel to color pixel scale factors.
	sx, sy float64
}

// prepare validates the whole frame up front so a bad frame fails before any point is produced.
func (u *Unprojector) prepare(f *frame.Frame) (*prepared, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := f.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	pose := f.ImagePose()
	if err := pose.Validate(); err != nil {
		return nil, err
	}

	color := rimage.ConvertToNRGBA(f.Color)
	return &prepared{
		cfg:        u.cfg,
		color:      color,
		depth:      f.Depth,
		confidence: f.Confidence,
		intrinsics: f.Intrinsics,
		pose:       pose,
		sx:         float64(color.Rect.Dx()) / float64(f.Depth.Width()),
		sy:         float64(color.Rect.Dy()) / float64(f.Depth.Height()),
	}, nil
}

// pixel unprojects depth pixel (x, y). ok is false for rejected samples.
func (p *prepared) pixel(x, y int) (pointcloud.Point, bool) {
	d := p.depth.GetDepth(x, y)
	if !rimage.ValidDepth(d) || d < p.cfg.MinDepth || (p.cfg.MaxDepth > 0 && d > p.cfg.MaxDepth) {
		return pointcloud.Point{}, false
	}

	conf := pointcloud.ConfidenceHigh
	if p.confidence != nil {
		conf = pointcloud.Confidence(p.confidence.Get(x, y))
		if !conf.Valid() {
			return pointcloud.Point{}, false
		}
	}
	if conf < p.cfg.MinConfidence {
		return pointcloud.Point{}, false
	}

	// Align pixel centers between the depth and color rasters.
	u := (float64(x)+0.5)*p.sx - 0.5
	v := (float64(y)+0.5)*p.sy - 0.5
	camera := p.intrinsics.PixelToPoint(u, v, float64(d))
	return pointcloud.Point{
		Position:   p.pose.Transform(camera),
		Color:      rimage.SampleColor(p.color, u, v, p.cfg.Sampling),
		Confidence: conf,
	}, true
}

// rows returns how many depth rows the stride visits.
func (p *prepared) rows() int {
	return (p.depth.Height() + p.cfg.Stride - 1) / p.cfg.Stride
}

func (p *prepared) row(rowIdx int, yield func(pointcloud.Point) bool) bool {
	y := rowIdx * p.cfg.Stride
	for x := 0; x < p.depth.Width(); x += p.cfg.Stride {
		if pt, ok := p.pixel(x, y); ok {
			if !yield(pt) {
				return false
			}
		}
	}
	return true
}

// Points returns a lazy sequence of the frame's accepted points in row-major depth pixel order.
// The frame is validated before the sequence is returned; iterating never fails.
func (u *Unprojector) Points(f *frame.Frame) (iter.Seq[pointcloud.Point], error) {
	p, err := u.prepare(f)
	if err != nil {
		return nil, err
	}
	return func(yield func(pointcloud.Point) bool) {
		for rowIdx := 0; rowIdx < p.rows(); rowIdx++ {
			if !p.row(rowIdx, yield) {
				return
			}
		}
	}, nil
}

// Unproject evaluates the frame in parallel row bands and returns the accepted points in the same
// order Points yields them. Either the whole frame succeeds or no points are returned.
func (u *Unprojector) Unproject(ctx context.Context, f *frame.Frame) ([]pointcloud.Point, error) {
	p, err := u.prepare(f)
	if err != nil {
		return nil, err
	}

	rows := p.rows()
	perBand := make([][]pointcloud.Point, len(utils.Bands(rows)))
	if err := utils.GroupWorkParallel(ctx, rows, func(ctx context.Context, band, from, to int) error {
		var out []pointcloud.Point
		for rowIdx := from; rowIdx < to; rowIdx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.row(rowIdx, func(pt pointcloud.Point) bool {
				out = append(out, pt)
				return true
			})
		}
		perBand[band] = out
		return nil
	}); err != nil {
		return nil, err
	}

	total := 0
	for _, band := range perBand {
		total += len(band)
	}
	points := make([]pointcloud.Point, 0, total)
	for _, band := range perBand {
		points = append(points, band...)
	}
	u.logger.Debugw("unprojected frame", "frame_ts", f.Timestamp, "points", total,
		"visited", rows*((f.Depth.Width()+u.cfg.Stride-1)/u.cfg.Stride))
	return points, nil
}
