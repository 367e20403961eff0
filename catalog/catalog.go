// Package catalog indexes recording sessions and point cloud exports in a sqlite database.
package catalog

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/identify/scanengine/logging"
)

// Session is one recording session.
type Session struct {
	ID        string `gorm:"primaryKey"`
	Dir       string
	StartedAt time.Time `gorm:"index"`
	StoppedAt *time.Time

	FramesQueued  int64
	FramesWritten int64
	FramesFailed  int64
	FramesDropped int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Export is one exported point cloud file.
type Export struct {
	ID       string `gorm:"primaryKey"`
	Path     string
	Format   string
	MimeType string
	Points   int
	Bytes    int64
	// SessionID is the session that was recording when the export was taken, if any.
	SessionID string `gorm:"index"`

	CreatedAt time.Time
}

// Catalog is a handle on the database.
type Catalog struct {
	db     *gorm.DB
	logger logging.Logger
}

// Open opens or creates the catalog at path and migrates its schema.
func Open(path string, logger logging.Logger) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 newGormLogger(logger),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening catalog %q", path)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Session{}, &Export{}); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "migrating catalog"), sqlDB.Close())
	}
	logger.Debugw("catalog opened", "path", path)
	return &Catalog{db: db, logger: logger}, nil
}

// AddSession inserts a new session.
func (c *Catalog) AddSession(ctx context.Context, s *Session) error {
	return c.db.WithContext(ctx).Create(s).Error
}

// FinishSession records the stop time and final frame counts of a session.
func (c *Catalog) FinishSession(ctx context.Context, s *Session) error {
	res := c.db.WithContext(ctx).Model(&Session{ID: s.ID}).Updates(map[string]any{
		"stopped_at":     s.StoppedAt,
		"frames_queued":  s.FramesQueued,
		"frames_written": s.FramesWritten,
		"frames_failed":  s.FramesFailed,
		"frames_dropped": s.FramesDropped,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("no session %q in catalog", s.ID)
	}
	return nil
}

// Session returns the session with the given id.
func (c *Catalog) Session(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// Sessions returns every session, newest first.
func (c *Catalog) Sessions(ctx context.Context) ([]Session, error) {
	var out []Session
	err := c.db.WithContext(ctx).Order("started_at DESC").Find(&out).Error
	return out, err
}

// AddExport inserts an export, assigning it a random id if it has none.
func (c *Catalog) AddExport(ctx context.Context, e *Export) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return c.db.WithContext(ctx).Create(e).Error
}

// Exports returns every export, newest first.
func (c *Catalog) Exports(ctx context.Context) ([]Export, error) {
	var out []Export
	err := c.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error
	return out, err
}

// Close closes the database.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
