package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/identify/scanengine/logging"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, c.Close(), test.ShouldBeNil) })
	return c
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"2024-03-01_10-00-00.000", "2024-03-01_11-00-00.000"} {
		err := c.AddSession(ctx, &Session{ID: id, Dir: "/scans/" + id, StartedAt: start.Add(time.Duration(i) * time.Hour)})
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, c.AddSession(ctx, &Session{ID: "2024-03-01_10-00-00.000"}), test.ShouldNotBeNil)

	stopped := start.Add(90 * time.Minute)
	err := c.FinishSession(ctx, &Session{
		ID:            "2024-03-01_11-00-00.000",
		StoppedAt:     &stopped,
		FramesQueued:  12,
		FramesWritten: 10,
		FramesFailed:  1,
		FramesDropped: 1,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.FinishSession(ctx, &Session{ID: "missing"}), test.ShouldNotBeNil)

	sessions, err := c.Sessions(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sessions, test.ShouldHaveLength, 2)
	test.That(t, sessions[0].ID, test.ShouldEqual, "2024-03-01_11-00-00.000")
	test.That(t, sessions[0].FramesWritten, test.ShouldEqual, int64(10))
	test.That(t, sessions[0].StoppedAt.Equal(stopped), test.ShouldBeTrue)
	test.That(t, sessions[1].StoppedAt, test.ShouldBeNil)

	s, err := c.Session(ctx, "2024-03-01_10-00-00.000")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Dir, test.ShouldEqual, "/scans/2024-03-01_10-00-00.000")
}

func TestExports(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	e := &Export{Path: "/exports/scan.pcd", Format: "pcd", Points: 1000, Bytes: 17_000}
	test.That(t, c.AddExport(ctx, e), test.ShouldBeNil)
	_, err := uuid.Parse(e.ID)
	test.That(t, err, test.ShouldBeNil)

	exports, err := c.Exports(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, exports, test.ShouldHaveLength, 1)
	test.That(t, exports[0].ID, test.ShouldEqual, e.ID)
	test.That(t, exports[0].Points, test.ShouldEqual, 1000)
}

func TestQueriesAreLogged(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, c.Close(), test.ShouldBeNil) }()

	test.That(t, c.AddSession(ctx, &Session{ID: "a"}), test.ShouldBeNil)
	test.That(t, logs.FilterMessage("catalog query").Len(), test.ShouldEqual, 0)

	test.That(t, c.AddSession(ctx, &Session{ID: "a"}), test.ShouldNotBeNil)
	failed := logs.FilterMessage("catalog query failed").All()
	test.That(t, failed, test.ShouldHaveLength, 1)
	test.That(t, failed[0].ContextMap()["sql"], test.ShouldContainSubstring, "INSERT")

	// A missing row is an answer, not a failure.
	_, err = c.Session(ctx, "missing")
	test.That(t, errors.Is(err, gorm.ErrRecordNotFound), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("catalog query failed").Len(), test.ShouldEqual, 1)

	verbose := c.db.Session(&gorm.Session{Logger: c.db.Logger.LogMode(gormlogger.Info)})
	var sessions []Session
	test.That(t, verbose.WithContext(ctx).Find(&sessions).Error, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("catalog query").Len(), test.ShouldEqual, 1)
}
