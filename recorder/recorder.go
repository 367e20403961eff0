// Package recorder persists raw frames of a recording session off the render path and exports
// accumulated point clouds to single files.
package recorder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/identify/scanengine/catalog"
	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/notify"
	"github.com/identify/scanengine/pointcloud"
	"github.com/identify/scanengine/utils"
)

var (
	// ErrNotRecording is returned when an operation needs an active session.
	ErrNotRecording = errors.New("not recording")
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrFrameDropped finishes the tasks of a frame evicted from a full queue.
	ErrFrameDropped = errors.New("frame dropped from full persistence queue")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("recorder closed")
)

// Config configures a Recorder.
type Config struct {
	OutputDir string
	// ExportDir defaults to OutputDir.
	ExportDir string
	Workers   int
	// QueueSize bounds how many frames may wait for a worker.
	QueueSize int
	// ExportFormat is "pcd", "las" or "ply".
	ExportFormat string
	// PCDType is the pcd data encoding. Its zero value is ascii.
	PCDType pointcloud.PCDType
	// MinFreeDiskBytes is the free space below which starting a session logs a warning. Zero
	// disables the check.
	MinFreeDiskBytes int64
	// Catalog is optional.
	Catalog *catalog.Catalog
	Clock   clock.Clock
}

// Validate checks the config.
func (cfg *Config) Validate() error {
	if cfg.OutputDir == "" {
		return errors.New("recorder output directory is required")
	}
	if cfg.Workers <= 0 {
		return errors.Errorf("recorder workers must be positive, got %d", cfg.Workers)
	}
	if cfg.QueueSize <= 0 {
		return errors.Errorf("recorder queue size must be positive, got %d", cfg.QueueSize)
	}
	switch cfg.ExportFormat {
	case "", "pcd", "las", "ply":
	default:
		return errors.Errorf("unsupported export format %q", cfg.ExportFormat)
	}
	return nil
}

type job struct {
	session *Session
	index   int
	frame   *frame.Frame
	// dones finish the job's tasks, one per file.
	dones []func(error)
}

// Recorder owns the recording sessions, a bounded queue of frames to persist, and the workers
// draining it. When the queue is full the oldest waiting frame is dropped.
type Recorder struct {
	cfg      Config
	notifier *notify.Notifier
	logger   logging.Logger

	queue     chan *job
	enqueueMu sync.Mutex
	// queueClosed is set once Close emptied the queue for the last time. Later jobs are dropped.
	queueClosed bool
	workers     utils.StoppableWorkers

	mu         sync.Mutex
	session    *Session
	closed     bool
	finalizers sync.WaitGroup

	exportMu sync.Mutex
}

// New starts a recorder's workers. Tasks are reported to notifier.
func New(cfg Config, notifier *notify.Notifier, logger logging.Logger) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = cfg.OutputDir
	}
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = "pcd"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	for _, dir := range []string{cfg.OutputDir, cfg.ExportDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrapf(err, "creating %s", dir)
		}
	}

	r := &Recorder{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		queue:    make(chan *job, cfg.QueueSize),
	}
	r.workers = utils.NewStoppableWorkers()
	for i := 0; i < cfg.Workers; i++ {
		r.workers.AddWorkers(r.work)
	}
	return r, nil
}

// Session returns the active session, or nil.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Start begins a new session in a fresh directory named by the current time and resets the
// notifier to zero tasks in flight.
func (r *Recorder) Start(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.session != nil {
		return nil, ErrAlreadyRecording
	}

	s, err := newSession(r.cfg.OutputDir, r.cfg.Clock.Now(), r.logger)
	if err != nil {
		return nil, err
	}
	if r.cfg.Catalog != nil {
		if err := r.cfg.Catalog.AddSession(ctx, s.Manifest().catalogSession(s.Dir())); err != nil {
			s.logger.Warnw("cannot add session to catalog", "error", err)
		}
	}
	r.checkFreeDisk(ctx, s)

	r.session = s
	r.notifier.Reset()
	s.logger.Infow("recording started", "dir", s.Dir())
	return s, nil
}

func (r *Recorder) checkFreeDisk(ctx context.Context, s *Session) {
	if r.cfg.MinFreeDiskBytes <= 0 {
		return
	}
	usage, err := disk.UsageWithContext(ctx, r.cfg.OutputDir)
	if err != nil {
		s.logger.Debugw("cannot read disk usage", "error", err)
		return
	}
	if usage.Free < uint64(r.cfg.MinFreeDiskBytes) {
		s.logger.Warnw("low disk space for recording",
			"available", units.HumanSize(float64(usage.Free)),
			"minimum", units.HumanSize(float64(r.cfg.MinFreeDiskBytes)))
	}
}

// Stop ends the active session. It does not wait for queued frames; once they drain the session
// manifest is written and the session's Done channel is closed.
func (r *Recorder) Stop(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session
	if s == nil {
		return nil, ErrNotRecording
	}
	r.session = nil
	s.stop(r.cfg.Clock.Now())

	r.finalizers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer r.finalizers.Done()
		s.pending.Wait()
		r.finalize(context.WithoutCancel(ctx), s)
	})
	s.logger.Info("recording stopped")
	return s, nil
}

func (r *Recorder) finalize(ctx context.Context, s *Session) {
	defer close(s.done)
	m := s.Manifest()
	err := utils.WriteFileAtomic(filepath.Join(s.Dir(), ManifestName), 0o640, m.write)
	if err != nil {
		s.logger.Warnw("cannot write session manifest", "error", err)
	}
	if r.cfg.Catalog != nil {
		if err := r.cfg.Catalog.FinishSession(ctx, m.catalogSession(s.Dir())); err != nil {
			s.logger.Warnw("cannot finish session in catalog", "error", err)
		}
	}
	s.logger.Infow("session finalized",
		"frames_written", m.FramesWritten,
		"frames_failed", m.FramesFailed,
		"frames_dropped", m.FramesDropped)
}

// Persist queues f to be written to the active session and returns its frame index. It never
// blocks on disk I/O: one task per file is started immediately and finished by a worker, or
// with ErrFrameDropped if the frame is evicted from the queue.
func (r *Recorder) Persist(f *frame.Frame) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return -1, ErrClosed
	}
	s := r.session
	if s == nil {
		r.mu.Unlock()
		return -1, ErrNotRecording
	}
	s.pending.Add(1)
	r.mu.Unlock()

	j := &job{session: s, index: int(s.nextIndex.Inc() - 1), frame: f}
	s.queued.Inc()
	for range frameFiles {
		j.dones = append(j.dones, r.notifier.Start())
	}
	r.enqueue(j)
	return j.index, nil
}

func (r *Recorder) enqueue(j *job) {
	r.enqueueMu.Lock()
	defer r.enqueueMu.Unlock()
	if r.queueClosed {
		r.drop(j, ErrClosed)
		return
	}
	for {
		select {
		case r.queue <- j:
			return
		default:
		}
		select {
		case old := <-r.queue:
			r.drop(old, ErrFrameDropped)
		default:
		}
	}
}

func (r *Recorder) drop(j *job, err error) {
	for _, done := range j.dones {
		done(err)
	}
	j.session.dropped.Inc()
	j.session.pending.Done()
	j.session.logger.Warnw("dropped frame", "frame", j.index, "error", err)
}

func (r *Recorder) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.persist(j)
		}
	}
}

func (r *Recorder) persist(j *job) {
	defer j.session.pending.Done()

	var failed bool
	for i, file := range frameFiles {
		path := filepath.Join(j.session.DataDir(), FrameFileName(j.index, file.suffix))
		err := utils.WriteFileAtomic(path, 0o640, func(w io.Writer) error {
			return file.write(w, j.index, j.frame)
		})
		if err != nil {
			failed = true
			j.session.logger.Warnw("cannot persist frame file", "frame", j.index, "file", file.suffix, "error", err)
		}
		j.dones[i](err)
	}
	if failed {
		j.session.failed.Inc()
	} else {
		j.session.written.Inc()
	}
}

// Export writes points to a new file in the export directory and returns its path. The file
// appears atomically; on failure nothing is left behind. Concurrent exports are serialized.
func (r *Recorder) Export(ctx context.Context, points *pointcloud.Snapshot) (string, error) {
	r.exportMu.Lock()
	defer r.exportMu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := "scan_" + r.cfg.Clock.Now().Format(SessionIDLayout) + "." + r.cfg.ExportFormat
	path := utils.UniquePath(filepath.Join(r.cfg.ExportDir, name))

	var err error
	switch r.cfg.ExportFormat {
	case "las":
		err = writeLASAtomic(path, points)
	case "ply":
		err = utils.WriteFileAtomic(path, 0o640, func(w io.Writer) error {
			return pointcloud.ToPLY(points, w)
		})
	default:
		err = utils.WriteFileAtomic(path, 0o640, func(w io.Writer) error {
			return pointcloud.ToPCD(points, w, r.cfg.PCDType)
		})
	}
	if err != nil {
		return "", errors.Wrap(err, "exporting point cloud")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	r.logger.Infow("exported point cloud",
		"path", path, "points", points.Len(), "size", units.HumanSize(float64(info.Size())))

	if r.cfg.Catalog != nil {
		export := &catalog.Export{
			Path:     path,
			Format:   r.cfg.ExportFormat,
			MimeType: utils.MimeTypeFromPath(path),
			Points:   points.Len(),
			Bytes:    info.Size(),
		}
		if s := r.Session(); s != nil {
			export.SessionID = s.ID()
		}
		if err := r.cfg.Catalog.AddExport(ctx, export); err != nil {
			r.logger.Warnw("cannot add export to catalog", "path", path, "error", err)
		}
	}
	return path, nil
}

// writeLASAtomic writes a LAS file next to path and renames it into place.
func writeLASAtomic(path string, points *pointcloud.Snapshot) (err error) {
	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(base, ".las")+".tmp-*.las")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			utils.RemoveFileNoError(tmpName)
		}
	}()
	if err := pointcloud.WriteToLASFile(points, tmpName); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Close stops accepting frames, stops the active session and waits for queued frames to be
// written. If ctx ends first the remaining frames are dropped with ErrClosed.
func (r *Recorder) Close(ctx context.Context) error {
	var err error
	if _, stopErr := r.Stop(ctx); stopErr != nil && !errors.Is(stopErr, ErrNotRecording) {
		err = stopErr
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	drained := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		r.finalizers.Wait()
		close(drained)
	})
	select {
	case <-drained:
	case <-ctx.Done():
		err = multierr.Combine(err, ctx.Err())
	}
	r.workers.Stop()

	r.enqueueMu.Lock()
	r.queueClosed = true
drain:
	for {
		select {
		case j := <-r.queue:
			r.drop(j, ErrClosed)
		default:
			break drain
		}
	}
	r.enqueueMu.Unlock()
	<-drained
	return err
}
