// Package replay implements a frame source that plays back a recorded session directory.
package replay

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/recorder"
	"github.com/identify/scanengine/utils"
)

// Options control playback.
type Options struct {
	// Interval between frames. Zero delivers as fast as the handler accepts them.
	Interval time.Duration
	Clock    clock.Clock
}

// Source delivers the frames of one session in index order.
type Source struct {
	dataDir string
	indices []int
	opts    Options
	logger  logging.Logger

	next atomic.Int64

	mu      sync.Mutex
	workers utils.StoppableWorkers
	done    chan struct{}
}

// New scans sessionDir for persisted frames. A session still being written has no manifest and
// is accepted; a manifest of an unsupported version is not.
func New(sessionDir string, opts Options, logger logging.Logger) (*Source, error) {
	if _, err := recorder.ReadManifest(sessionDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	dataDir := filepath.Join(sessionDir, recorder.DataDirName)
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading session %s", sessionDir)
	}
	indices := lo.FilterMap(entries, func(e os.DirEntry, _ int) (int, bool) {
		name, ok := strings.CutPrefix(e.Name(), "frame_")
		if !ok {
			return 0, false
		}
		name, ok = strings.CutSuffix(name, "_"+recorder.PoseSuffix)
		if !ok {
			return 0, false
		}
		idx, err := strconv.Atoi(name)
		return idx, err == nil
	})
	if len(indices) == 0 {
		return nil, errors.Errorf("session %s has no frames", sessionDir)
	}
	slices.Sort(indices)
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Source{
		dataDir: dataDir,
		indices: indices,
		opts:    opts,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Len returns the number of frames in the session.
func (s *Source) Len() int {
	return len(s.indices)
}

// Done is closed after the last frame has been delivered.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Start begins playback to h in the background.
func (s *Source) Start(ctx context.Context, h frame.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers != nil {
		return errors.New("replay already started")
	}
	s.workers = utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
		s.play(ctx, h)
	})
	return nil
}

func (s *Source) play(ctx context.Context, h frame.Handler) {
	for {
		pos := int(s.next.Inc() - 1)
		if pos >= len(s.indices) {
			close(s.done)
			return
		}
		if ctx.Err() != nil {
			return
		}
		f, err := recorder.LoadFrame(s.dataDir, s.indices[pos])
		if err != nil {
			s.logger.Warnw("skipping unreadable frame", "frame", s.indices[pos], "error", err)
			continue
		}
		h.HandleFrame(ctx, f)
		if s.opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.opts.Clock.After(s.opts.Interval):
			}
		}
	}
}

// Reset rewinds playback to the first frame when tracking is reset. It has no effect once
// playback has finished.
func (s *Source) Reset(ctx context.Context, opts frame.ResetOptions) error {
	if opts.ResetTracking {
		s.next.Store(0)
	}
	return nil
}

// Close stops playback.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers != nil {
		s.workers.Stop()
	}
	return nil
}
