package recorder

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/identify/scanengine/catalog"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/utils"
)

const (
	// SessionIDLayout formats a session start time into its id and directory name.
	SessionIDLayout = "2006-01-02_15-04-05.000"
	// DataDirName is the per-session subdirectory holding frame files.
	DataDirName = "data"
	// ManifestName is the session record written once a stopped session drains.
	ManifestName = "session.json"
	// ManifestFormatVersion is written into every manifest.
	ManifestFormatVersion = "1.0.0"
)

// ErrUnsupportedManifest is returned for manifests of an incompatible format version.
var ErrUnsupportedManifest = errors.New("unsupported session manifest version")

// readableManifests are the manifest versions this build can read.
var readableManifests = func() *semver.Constraints {
	c, err := semver.NewConstraint("^1")
	if err != nil {
		panic(err)
	}
	return c
}()

// Session is one recording session and the directory it writes into.
type Session struct {
	id      string
	dir     string
	started time.Time
	logger  logging.Logger

	mu      sync.Mutex
	stopped time.Time

	nextIndex atomic.Int64
	queued    atomic.Int64
	written   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	// pending counts queued frames that are not yet written or dropped.
	pending sync.WaitGroup
	done    chan struct{}
}

// SessionDir returns the directory of session id under outputDir. Ids that would resolve outside
// outputDir are rejected.
func SessionDir(outputDir, id string) (string, error) {
	return utils.SafeJoinDir(outputDir, id)
}

// newSession creates the session directory under outputDir. When a directory with the same
// timestamp exists, "_N" is appended to the id. The session logs through logger tagged with its id.
func newSession(outputDir string, started time.Time, logger logging.Logger) (*Session, error) {
	base := started.Format(SessionIDLayout)
	id := base
	var dir string
	for n := 1; ; n++ {
		var err error
		if dir, err = SessionDir(outputDir, id); err != nil {
			return nil, err
		}
		err = os.Mkdir(dir, 0o750)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, errors.Wrapf(err, "creating session directory for %s", id)
		}
		id = base + "_" + strconv.Itoa(n)
	}
	s := &Session{
		id:      id,
		dir:     dir,
		started: started,
		logger:  logger.With("session", id),
		done:    make(chan struct{}),
	}
	if err := os.Mkdir(s.DataDir(), 0o750); err != nil {
		return nil, errors.Wrap(err, "creating session data directory")
	}
	return s, nil
}

// ID returns the session id, derived from its start time.
func (s *Session) ID() string {
	return s.id
}

// Dir returns the session directory.
func (s *Session) Dir() string {
	return s.dir
}

// DataDir returns the directory holding the session's frame files.
func (s *Session) DataDir() string {
	return filepath.Join(s.dir, DataDirName)
}

// Done is closed once the session has stopped, every queued frame has been written or dropped,
// and the manifest has been written.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) stop(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = at
}

// Manifest is the persisted record of a session.
type Manifest struct {
	FormatVersion string     `json:"format_version"`
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	FramesQueued  int64      `json:"frames_queued"`
	FramesWritten int64      `json:"frames_written"`
	FramesFailed  int64      `json:"frames_failed"`
	FramesDropped int64      `json:"frames_dropped"`
}

// Manifest returns the session record as of now.
func (s *Session) Manifest() Manifest {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	m := Manifest{
		FormatVersion: ManifestFormatVersion,
		ID:            s.id,
		StartedAt:     s.started,
		FramesQueued:  s.queued.Load(),
		FramesWritten: s.written.Load(),
		FramesFailed:  s.failed.Load(),
		FramesDropped: s.dropped.Load(),
	}
	if !stopped.IsZero() {
		m.StoppedAt = &stopped
	}
	return m
}

func (m Manifest) catalogSession(dir string) *catalog.Session {
	return &catalog.Session{
		ID:            m.ID,
		Dir:           dir,
		StartedAt:     m.StartedAt,
		StoppedAt:     m.StoppedAt,
		FramesQueued:  m.FramesQueued,
		FramesWritten: m.FramesWritten,
		FramesFailed:  m.FramesFailed,
		FramesDropped: m.FramesDropped,
	}
}

func (m Manifest) write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// ReadManifest reads the manifest of the session in dir. Manifests from an incompatible format
// version return ErrUnsupportedManifest.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	err := readFile(filepath.Join(dir, ManifestName), func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&m)
	})
	if err != nil {
		return m, err
	}
	v, err := semver.NewVersion(m.FormatVersion)
	if err != nil || !readableManifests.Check(v) {
		return m, errors.Wrapf(ErrUnsupportedManifest, "%q", m.FormatVersion)
	}
	return m, nil
}
