package render

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/pointcloud"
)

const (
	// timingWindow is how many recent draw times feed Stats.
	timingWindow = 240
	maxPointSize = 16
)

// Opacity of points by confidence when confidence opacity is enabled.
var confidenceOpacity = [...]float64{
	pointcloud.ConfidenceLow:    0.35,
	pointcloud.ConfidenceMedium: 0.7,
	pointcloud.ConfidenceHigh:   1,
}

// Config controls how points are drawn.
type Config struct {
	// PointSize is the splat width in pixels. With DepthScaledPoints it is the width at 1m.
	PointSize         float64
	DepthScaledPoints bool
	ConfidenceOpacity bool
	ColorMode         ColorMode
	// FrameBudget is the display refresh deadline. Draws over it are logged.
	FrameBudget time.Duration
	// Clock times draws. Defaults to the wall clock.
	Clock clock.Clock
}

// Stats summarize the renderer's recent ticks.
type Stats struct {
	Drawn uint64
	// Empty ticks had no frame to draw yet.
	Empty uint64
	// Skipped ticks failed and were dropped.
	Skipped    uint64
	OverBudget uint64
	MeanDraw   time.Duration
	P95Draw    time.Duration
}

// Renderer draws the latest frame and the accumulated points.
type Renderer struct {
	cfg    Config
	device Device
	points *pointcloud.Accumulator
	state  *State
	logger logging.Logger

	latest atomic.Pointer[frame.Frame]

	sizeMu  sync.Mutex
	pending image.Point

	// mu is held for a whole draw. Framebuffer and cache changes happen under it.
	mu      sync.Mutex
	fb      *Framebuffer
	bgFrame *frame.Frame
	bg      *image.NRGBA
	timings []float64
	next    int

	drawn      atomic.Uint64
	empty      atomic.Uint64
	skipped    atomic.Uint64
	overBudget atomic.Uint64
}

// New creates a renderer with a framebuffer of the given size. A nil device or a failure to
// allocate the first framebuffer is fatal.
func New(
	cfg Config,
	device Device,
	points *pointcloud.Accumulator,
	state *State,
	size image.Point,
	logger logging.Logger,
) (*Renderer, error) {
	if device == nil {
		return nil, ErrNoDevice
	}
	if cfg.PointSize <= 0 {
		return nil, errors.Errorf("point size must be positive, got %v", cfg.PointSize)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	fb, err := device.NewFramebuffer(size)
	if err != nil {
		return nil, errors.Wrapf(err, "creating framebuffer on %s device", device.Name())
	}
	logger.Infow("renderer ready", "device", device.Name(), "size", size)
	return &Renderer{
		cfg:     cfg,
		device:  device,
		points:  points,
		state:   state,
		logger:  logger,
		pending: size,
		fb:      fb,
	}, nil
}

// SetFrame makes f the frame drawn by the following ticks.
func (r *Renderer) SetFrame(f *frame.Frame) {
	r.latest.Store(f)
}

// Frame returns the latest frame, or nil.
func (r *Renderer) Frame() *frame.Frame {
	return r.latest.Load()
}

// OnResize requests a new viewport size. The framebuffer is recreated at the start of the next
// draw, never during one.
func (r *Renderer) OnResize(size image.Point) {
	r.sizeMu.Lock()
	defer r.sizeMu.Unlock()
	r.pending = size
}

// Draw renders one tick. With no frame delivered yet it draws nothing and returns nil. A failed
// tick is logged, counted and returned; the renderer stays usable.
func (r *Renderer) Draw(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.latest.Load()
	if f == nil {
		r.empty.Inc()
		return nil
	}

	start := r.cfg.Clock.Now()
	if err := r.draw(ctx, f); err != nil {
		r.skipped.Inc()
		r.logger.Warnw("dropped render tick", "frame_ts", f.Timestamp, "error", err)
		return err
	}
	elapsed := r.cfg.Clock.Since(start)
	r.drawn.Inc()
	r.recordTiming(elapsed)
	if r.cfg.FrameBudget > 0 && elapsed > r.cfg.FrameBudget {
		r.overBudget.Inc()
		r.logger.Debugw("draw over budget", "elapsed", elapsed, "budget", r.cfg.FrameBudget)
	}
	return nil
}

func (r *Renderer) draw(ctx context.Context, f *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.resize(); err != nil {
		return err
	}
	if f.Color == nil || f.Intrinsics == nil {
		return errors.Wrap(frame.ErrMalformedFrame, "frame has no color image or intrinsics")
	}
	pose := f.ImagePose()
	if err := pose.Validate(); err != nil {
		return err
	}

	r.fb.Clear()
	r.drawBackground(f)
	if r.points != nil && r.state.OverlayEnabled() {
		size := r.fb.Size()
		view := pose.Inverse()
		intrinsics := f.Intrinsics.Scaled(size.X, size.Y)
		r.points.Read(func(points *pointcloud.Snapshot) {
			points.Iterate(func(_ int, p pointcloud.Point) bool {
				cam := view.Transform(p.Position)
				x, y, ok := intrinsics.PointToPixel(cam)
				if ok {
					r.splat(x, y, cam.Z, p)
				}
				return true
			})
		})
	}
	return r.device.Present(r.fb)
}

func (r *Renderer) resize() error {
	r.sizeMu.Lock()
	size := r.pending
	r.sizeMu.Unlock()

	if size == r.fb.Size() {
		return nil
	}
	fb, err := r.device.NewFramebuffer(size)
	if err != nil {
		return errors.Wrapf(err, "resizing framebuffer to %v", size)
	}
	r.fb = fb
	r.bg = nil
	return nil
}

// drawBackground fills the color target with the camera image stretched to the viewport. Depth
// is left untouched.
func (r *Renderer) drawBackground(f *frame.Frame) {
	size := r.fb.Size()
	if r.bg == nil || r.bgFrame != f || r.bg.Rect.Size() != size {
		r.bg = imaging.Resize(f.Color, size.X, size.Y, imaging.Linear)
		r.bgFrame = f
	}
	draw.Draw(r.fb.Color, r.fb.Color.Rect, r.bg, image.Point{}, draw.Src)
}

func (r *Renderer) splat(px, py, z float64, p pointcloud.Point) {
	size := r.cfg.PointSize
	if r.cfg.DepthScaledPoints {
		size = math.Min(maxPointSize, size/z)
	}
	n := max(1, int(math.Round(size)))
	x0 := int(math.Floor(px - size/2 + 0.5))
	y0 := int(math.Floor(py - size/2 + 0.5))

	alpha := 1.0
	if r.cfg.ConfidenceOpacity && p.Confidence.Valid() {
		alpha = confidenceOpacity[p.Confidence]
	}

	c := r.shade(p)
	bounds := r.fb.Color.Rect
	for y := max(y0, bounds.Min.Y); y < min(y0+n, bounds.Max.Y); y++ {
		for x := max(x0, bounds.Min.X); x < min(x0+n, bounds.Max.X); x++ {
			if !r.fb.depthTest(x, y, float32(z)) {
				continue
			}
			r.fb.Color.SetRGBA(x, y, blend(c, r.fb.Color.RGBAAt(x, y), alpha))
		}
	}
}

func blend(src color.NRGBA, dst color.RGBA, alpha float64) color.RGBA {
	mix := func(s, d uint8) uint8 {
		return uint8(math.Round(alpha*float64(s) + (1-alpha)*float64(d)))
	}
	return color.RGBA{R: mix(src.R, dst.R), G: mix(src.G, dst.G), B: mix(src.B, dst.B), A: 255}
}

func (r *Renderer) recordTiming(d time.Duration) {
	if len(r.timings) < timingWindow {
		r.timings = append(r.timings, float64(d))
		return
	}
	r.timings[r.next] = float64(d)
	r.next = (r.next + 1) % timingWindow
}

// Output returns a copy of the framebuffer color target after the last draw.
func (r *Renderer) Output() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return imaging.Clone(r.fb.Color)
}

// Stats returns tick counters and draw time statistics over the recent window.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	timings := append([]float64(nil), r.timings...)
	r.mu.Unlock()

	s := Stats{
		Drawn:      r.drawn.Load(),
		Empty:      r.empty.Load(),
		Skipped:    r.skipped.Load(),
		OverBudget: r.overBudget.Load(),
	}
	if mean, err := stats.Mean(timings); err == nil {
		s.MeanDraw = time.Duration(mean)
	}
	if p95, err := stats.PercentileNearestRank(timings, 95); err == nil {
		s.P95Draw = time.Duration(p95)
	}
	return s
}
