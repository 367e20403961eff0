package engine

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/identify/scanengine/config"
	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/frame/replay"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/render"
)

// sessionExporter feeds replayed frames straight into an engine's accumulator. Nothing is
// persisted again.
type sessionExporter struct {
	e *Engine
}

func (x sessionExporter) HandleFrame(ctx context.Context, f *frame.Frame) {
	x.e.framesSeen.Inc()
	if err := f.Validate(); err != nil {
		x.e.skip(f, err)
		return
	}
	x.e.accumulate(ctx, f)
}

func (x sessionExporter) HandleFailure(err error) {}

// ExportSession rebuilds the point cloud of a recorded session directory with cfg's unprojection,
// accumulation and motion settings and exports it to cfg's output directory. It returns the path
// of the exported file.
func ExportSession(ctx context.Context, cfg *config.Config, sessionDir string, logger logging.Logger) (_ string, err error) {
	src, err := replay.New(sessionDir, replay.Options{}, logger.Sublogger("replay"))
	if err != nil {
		return "", err
	}
	e, err := New(ctx, cfg, render.NewSoftwareDevice(), nil, logger)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Combine(err, src.Close(ctx), e.Close(ctx))
	}()

	if err := src.Start(ctx, sessionExporter{e: e}); err != nil {
		return "", errors.Wrap(err, "starting replay")
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-src.Done():
	}

	status := e.Status()
	logger.Infow("replayed session",
		"session_dir", sessionDir,
		"frames", src.Len(),
		"accumulated", status.FramesAccumulated,
		"skipped", status.FramesSkipped,
		"points", status.Points.Count,
	)
	return e.ExportPointCloud(ctx)
}
