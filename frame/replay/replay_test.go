package replay

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/notify"
	"github.com/identify/scanengine/recorder"
	"github.com/identify/scanengine/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

type collector struct {
	mu       sync.Mutex
	frames   []*frame.Frame
	failures []error
}

func (c *collector) HandleFrame(ctx context.Context, f *frame.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *collector) HandleFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, err)
}

func recordSession(t *testing.T, frames int) *recorder.Session {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	rec, err := recorder.New(recorder.Config{OutputDir: t.TempDir(), Workers: 1, QueueSize: frames},
		notify.NewNotifier(logger), logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, rec.Close(ctx), test.ShouldBeNil) }()

	s, err := rec.Start(ctx)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < frames; i++ {
		_, err := rec.Persist(testutils.SyntheticFrame(testutils.SyntheticFrameConfig{Index: i, Valid: 12, Invalid: 3}))
		test.That(t, err, test.ShouldBeNil)
	}
	_, err = rec.Stop(ctx)
	test.That(t, err, test.ShouldBeNil)
	<-s.Done()
	return s
}

func TestReplayDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	s := recordSession(t, 4)
	// An unreadable frame is skipped.
	test.That(t, os.Remove(filepath.Join(s.DataDir(), recorder.FrameFileName(2, recorder.DepthSuffix))), test.ShouldBeNil)

	src, err := New(s.Dir(), Options{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Len(), test.ShouldEqual, 4)

	h := &collector{}
	test.That(t, src.Start(ctx, h), test.ShouldBeNil)
	test.That(t, src.Start(ctx, h), test.ShouldNotBeNil)
	select {
	case <-src.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("replay did not finish")
	}
	test.That(t, src.Close(ctx), test.ShouldBeNil)

	h.mu.Lock()
	defer h.mu.Unlock()
	test.That(t, h.frames, test.ShouldHaveLength, 3)
	for i, want := range []int{0, 1, 3} {
		test.That(t, h.frames[i].Timestamp, test.ShouldEqual, time.Duration(want)*33*time.Millisecond)
		test.That(t, h.frames[i].Validate(), test.ShouldBeNil)
	}
	test.That(t, h.failures, test.ShouldBeEmpty)
}

func TestReplayCloseStopsPlayback(t *testing.T) {
	ctx := context.Background()
	s := recordSession(t, 2)
	src, err := New(s.Dir(), Options{Interval: time.Hour}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	h := &collector{}
	test.That(t, src.Start(ctx, h), test.ShouldBeNil)
	test.That(t, src.Reset(ctx, frame.ResetOptions{ResetTracking: true}), test.ShouldBeNil)
	test.That(t, src.Close(ctx), test.ShouldBeNil)

	select {
	case <-src.Done():
		t.Fatal("playback should not have finished")
	default:
	}
}

func TestNewRequiresFrames(t *testing.T) {
	dir := t.TempDir()
	_, err := New(dir, Options{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.Mkdir(filepath.Join(dir, recorder.DataDirName), 0o750), test.ShouldBeNil)
	_, err = New(dir, Options{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no frames")
}

func TestNewRejectsUnsupportedManifest(t *testing.T) {
	s := recordSession(t, 1)
	manifest := filepath.Join(s.Dir(), recorder.ManifestName)
	test.That(t, os.WriteFile(manifest, []byte(`{"format_version": "2.0.0", "id": "future"}`), 0o600), test.ShouldBeNil)

	_, err := New(s.Dir(), Options{}, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, recorder.ErrUnsupportedManifest), test.ShouldBeTrue)
}
