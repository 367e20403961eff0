// Package engine is the capture and render engine the scanning UI talks to. It wires a frame
// source through unprojection into the point accumulator, draws every display tick, and persists
// and exports what is recorded.
package engine

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/identify/scanengine/catalog"
	"github.com/identify/scanengine/config"
	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/notify"
	"github.com/identify/scanengine/pointcloud"
	"github.com/identify/scanengine/recorder"
	"github.com/identify/scanengine/render"
	"github.com/identify/scanengine/rimage"
	"github.com/identify/scanengine/spatialmath"
	"github.com/identify/scanengine/unproject"
	"github.com/identify/scanengine/utils"
)

// DefaultViewport is the framebuffer size until the first OnResize.
var DefaultViewport = image.Pt(640, 480)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine closed")

// Skipped frame warnings are limited to a burst of skipLogBurst, then one per skipLogEvery.
const (
	skipLogEvery = time.Second
	skipLogBurst = 5
)

// Option configures optional parts of an Engine.
type Option func(*Engine)

// WithMemoryProbe replaces the system memory reader used by the memory monitor.
func WithMemoryProbe(probe MemoryProbe) Option {
	return func(e *Engine) {
		e.memoryProbe = probe
	}
}

// WithClock sets the clock driving the memory monitor.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		e.clock = clk
	}
}

// Engine owns the capture pipeline of one scanning screen.
type Engine struct {
	cfg    config.Config
	logger logging.Logger

	source      frame.Source
	unprojector *unproject.Unprojector
	points      *pointcloud.Accumulator
	state       *render.State
	renderer    *render.Renderer
	notifier    *notify.Notifier
	recorder    *recorder.Recorder
	catalog     *catalog.Catalog

	clock       clock.Clock
	memoryProbe MemoryProbe
	monitors    utils.StoppableWorkers
	skipLog     *rate.Limiter

	// recordingMu serializes recording start and stop.
	recordingMu sync.Mutex
	// frameMu makes frame processing the single accumulator writer.
	frameMu  sync.Mutex
	lastPose *spatialmath.Pose

	sessionErr atomic.Error
	closed     atomic.Bool

	framesSeen        atomic.Uint64
	framesAccumulated atomic.Uint64
	framesSkipped     atomic.Uint64
	framesGated       atomic.Uint64
}

// New builds an engine from cfg and starts source, if any, delivering to it. A nil device is
// fatal and returns render.ErrNoDevice.
func New(
	ctx context.Context,
	cfg *config.Config,
	device render.Device,
	source frame.Source,
	logger logging.Logger,
	opts ...Option,
) (_ *Engine, err error) {
	if device == nil {
		logger.Errorw("cannot start engine", "error", render.ErrNoDevice)
		return nil, render.ErrNoDevice
	}
	conf := *cfg
	conf.ApplyDefaults()
	if err := conf.Validate(""); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         conf,
		logger:      logger,
		source:      source,
		state:       render.NewState(),
		notifier:    notify.NewNotifier(logger.Sublogger("notify")),
		clock:       clock.New(),
		memoryProbe: SystemMemory,
		skipLog:     rate.NewLimiter(rate.Every(skipLogEvery), skipLogBurst),
	}
	for _, opt := range opts {
		opt(e)
	}
	defer func() {
		if err != nil {
			logger.Errorw("cannot start engine", "error", err)
			err = multierr.Combine(err, e.closeParts(ctx))
		}
	}()

	if e.unprojector, err = newUnprojector(conf.Unproject, logger.Sublogger("unproject")); err != nil {
		return nil, err
	}
	if e.points, err = pointcloud.NewAccumulator(conf.PointCapacity); err != nil {
		return nil, err
	}
	colorMode, err := render.ColorModeFromString(conf.Render.ColorMode)
	if err != nil {
		return nil, err
	}
	e.renderer, err = render.New(render.Config{
		PointSize:         conf.Render.PointSize,
		DepthScaledPoints: conf.Render.DepthScaledPoints,
		ConfidenceOpacity: *conf.Render.ConfidenceOpacity,
		ColorMode:         colorMode,
		FrameBudget:       conf.Render.Budget(),
	}, device, e.points, e.state, DefaultViewport, logger.Sublogger("render"))
	if err != nil {
		return nil, err
	}
	if conf.CatalogPath != "" {
		if e.catalog, err = catalog.Open(conf.CatalogPath, logger.Sublogger("catalog")); err != nil {
			return nil, err
		}
	}
	pcdType, err := pointcloud.PCDTypeFromString(conf.Export.Encoding)
	if err != nil {
		return nil, err
	}
	e.recorder, err = recorder.New(recorder.Config{
		OutputDir:        conf.OutputDir,
		ExportDir:        conf.ExportDir,
		Workers:          conf.Recorder.Workers,
		QueueSize:        conf.Recorder.QueueSize,
		ExportFormat:     conf.Export.Format,
		PCDType:          pcdType,
		MinFreeDiskBytes: conf.Recorder.MinFreeDiskBytes(),
		Catalog:          e.catalog,
	}, e.notifier, logger.Sublogger("recorder"))
	if err != nil {
		return nil, err
	}

	if conf.Memory.WarnUsedPercent > 0 {
		e.monitors = utils.NewStoppableWorkers(e.watchMemory)
	}
	if source != nil {
		if err := source.Start(ctx, e); err != nil {
			return nil, errors.Wrap(err, "starting frame source")
		}
	}
	logger.Infow("engine started", "output_dir", conf.OutputDir, "point_capacity", conf.PointCapacity)
	return e, nil
}

func newUnprojector(cfg config.UnprojectConfig, logger logging.Logger) (*unproject.Unprojector, error) {
	minConfidence, err := pointcloud.ConfidenceFromString(cfg.MinConfidence)
	if err != nil {
		return nil, err
	}
	sampling, err := rimage.SamplingFromString(cfg.Sampling)
	if err != nil {
		return nil, err
	}
	return unproject.New(unproject.Config{
		Stride:        cfg.Stride,
		MinConfidence: minConfidence,
		MinDepth:      float32(cfg.MinDepthM),
		MaxDepth:      float32(cfg.MaxDepthM),
		Sampling:      sampling,
	}, logger)
}

// HandleFrame processes one delivered frame. The frame always becomes the render background.
// While recording, and unless the tracking session failed, its raw data is queued for persistence
// and its points are accumulated if the motion gate lets it through. Bad frames are logged and
// skipped.
func (e *Engine) HandleFrame(ctx context.Context, f *frame.Frame) {
	if e.closed.Load() {
		return
	}
	e.framesSeen.Inc()
	if err := f.Validate(); err != nil {
		e.skip(f, err)
		return
	}
	e.renderer.SetFrame(f)

	if !e.state.IsRecording() || e.sessionErr.Load() != nil {
		return
	}

	if !e.accumulate(ctx, f) {
		return
	}
	if _, err := e.recorder.Persist(f); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
		e.logger.Warnw("cannot queue frame for persistence", "frame_ts", f.Timestamp, "error", err)
	}
}

// accumulate unprojects a valid frame into the accumulator unless the motion gate holds it back.
// It returns false if the frame could not be unprojected and was skipped.
func (e *Engine) accumulate(ctx context.Context, f *frame.Frame) bool {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	pose := f.ImagePose()
	if !e.moved(pose) {
		e.framesGated.Inc()
		return true
	}
	clears := e.points.Stats().Clears
	points, err := e.unprojector.Unproject(ctx, f)
	if err != nil {
		e.skip(f, err)
		return false
	}
	evicted, ok := e.points.AppendUnlessCleared(clears, points)
	if !ok {
		e.logger.Debugw("accumulation cleared while unprojecting, discarding points",
			"frame_ts", f.Timestamp, "points", len(points))
		return true
	}
	if evicted > 0 {
		e.logger.Debugw("evicted oldest points", "frame_ts", f.Timestamp, "evicted", evicted)
	}
	e.lastPose = &pose
	e.framesAccumulated.Inc()
	return true
}

func (e *Engine) skip(f *frame.Frame, err error) {
	skipped := e.framesSkipped.Inc()
	if !e.skipLog.Allow() {
		return
	}
	var ts any
	if f != nil {
		ts = f.Timestamp
	}
	e.logger.Warnw("skipping frame", "frame_ts", ts, "error", err, "skipped_total", skipped)
}

// moved reports whether the camera moved enough since the last accumulated frame. Without
// motion thresholds every frame counts as moved.
func (e *Engine) moved(pose spatialmath.Pose) bool {
	m := e.cfg.Motion
	if e.lastPose == nil || (m.MinTranslationM == 0 && m.MinRotationDeg == 0) {
		return true
	}
	if m.MinTranslationM > 0 && spatialmath.TranslationBetween(*e.lastPose, pose) >= m.MinTranslationM {
		return true
	}
	return m.MinRotationDeg > 0 && spatialmath.RotationBetween(*e.lastPose, pose) >= m.MinRotationDeg
}

// HandleFailure records a tracking session failure. New points stop accumulating until
// RestartSession succeeds.
func (e *Engine) HandleFailure(err error) {
	if err == nil {
		return
	}
	e.sessionErr.Store(err)
	e.logger.Warnw("tracking session failed", "error", err)
}

// SessionError returns the last tracking failure, or nil while tracking is healthy.
func (e *Engine) SessionError() error {
	return e.sessionErr.Load()
}

// RestartSession asks the source to reset tracking and reconstruction and clears the failure.
func (e *Engine) RestartSession(ctx context.Context) error {
	if e.source == nil {
		return errors.New("engine has no frame source")
	}
	if err := e.source.Reset(ctx, frame.ResetOptions{ResetTracking: true, ResetReconstruction: true}); err != nil {
		return errors.Wrap(err, "restarting tracking session")
	}
	e.sessionErr.Store(nil)
	e.frameMu.Lock()
	e.lastPose = nil
	e.frameMu.Unlock()
	e.logger.Info("tracking session restarted")
	return nil
}

// SetRecording starts or stops recording. Starting creates a new session directory; stopping
// returns without waiting for queued frames to be written.
func (e *Engine) SetRecording(ctx context.Context, on bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.recordingMu.Lock()
	defer e.recordingMu.Unlock()
	if on == e.state.IsRecording() {
		return nil
	}
	if !on {
		e.state.SetRecording(false)
		if _, err := e.recorder.Stop(ctx); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
			return err
		}
		return nil
	}

	if _, err := e.recorder.Start(ctx); err != nil {
		return err
	}
	e.frameMu.Lock()
	e.lastPose = nil
	e.frameMu.Unlock()
	e.state.SetRecording(true)
	return nil
}

// IsRecording reports whether frames are being accumulated and persisted.
func (e *Engine) IsRecording() bool {
	return e.state.IsRecording()
}

// ClearAccumulation empties the point accumulator. Recording is unaffected.
func (e *Engine) ClearAccumulation() {
	e.points.Clear()
	e.logger.Debug("cleared accumulated points")
}

// ToggleOverlay flips drawing of the accumulated points and returns the new value.
func (e *Engine) ToggleOverlay() bool {
	return e.state.ToggleOverlay()
}

// ExportPointCloud writes the accumulated points to a new file and returns its path.
func (e *Engine) ExportPointCloud(ctx context.Context) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	return e.recorder.Export(ctx, e.points.Snapshot())
}

// OnResize sets the viewport size used from the next draw on.
func (e *Engine) OnResize(size image.Point) {
	e.renderer.OnResize(size)
}

// Draw renders one display tick. Errors are per tick and already logged.
func (e *Engine) Draw(ctx context.Context) error {
	return e.renderer.Draw(ctx)
}

// Output returns a copy of the last drawn image.
func (e *Engine) Output() image.Image {
	return e.renderer.Output()
}

// Notifier returns the notifier persistence tasks are reported to.
func (e *Engine) Notifier() *notify.Notifier {
	return e.notifier
}

// HandleMemoryWarning stops recording to relieve memory pressure.
func (e *Engine) HandleMemoryWarning() {
	e.logger.Warnw("memory warning, stopping recording", "points", e.points.Len())
	if err := e.SetRecording(context.Background(), false); err != nil {
		e.logger.Warnw("cannot stop recording", "error", err)
	}
}

// Status is a snapshot of the engine.
type Status struct {
	Recording      bool
	OverlayEnabled bool
	Session        string
	SessionError   error

	Points pointcloud.AccumulatorStats

	FramesSeen        uint64
	FramesAccumulated uint64
	FramesSkipped     uint64
	FramesGated       uint64

	Tasks  notify.Stats
	Render render.Stats
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	s := Status{
		Recording:         e.state.IsRecording(),
		OverlayEnabled:    e.state.OverlayEnabled(),
		SessionError:      e.sessionErr.Load(),
		Points:            e.points.Stats(),
		FramesSeen:        e.framesSeen.Load(),
		FramesAccumulated: e.framesAccumulated.Load(),
		FramesSkipped:     e.framesSkipped.Load(),
		FramesGated:       e.framesGated.Load(),
		Tasks:             e.notifier.Stats(),
		Render:            e.renderer.Stats(),
	}
	if session := e.recorder.Session(); session != nil {
		s.Session = session.ID()
	}
	return s
}

// Close stops the source, stops recording and waits for queued frames up to ctx.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.state.SetRecording(false)
	err := e.closeParts(ctx)
	e.logger.Info("engine closed")
	return err
}

func (e *Engine) closeParts(ctx context.Context) error {
	if e.monitors != nil {
		e.monitors.Stop()
	}
	var err error
	if e.source != nil {
		err = multierr.Combine(err, e.source.Close(ctx))
	}
	if e.recorder != nil {
		err = multierr.Combine(err, e.recorder.Close(ctx))
	}
	if e.catalog != nil {
		err = multierr.Combine(err, e.catalog.Close())
	}
	return err
}
