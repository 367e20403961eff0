// Package config defines the scan engine configuration and how it is read and validated.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/identify/scanengine/logging"
)

// Defaults applied by ApplyDefaults to zero valued fields.
const (
	DefaultPointCapacity = 1_000_000
	DefaultMinDepthM     = 0.1
	DefaultMinConfidence = "medium"
	DefaultSampling      = "nearest"
	DefaultPointSize     = 2.0
	DefaultFrameBudget   = 16 * time.Millisecond
	DefaultWorkers       = 2
	DefaultQueueSize     = 8
	DefaultMinFreeDisk   = "1GB"
	DefaultMemoryPoll    = 2 * time.Second
	DefaultExportFormat  = "pcd"
	DefaultEncoding      = "binary"
	DefaultLogMaxSizeMB  = 16
	DefaultLogMaxBackups = 3
)

// Config is the top level engine configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	// OutputDir holds one directory per recording session.
	OutputDir string `json:"output_dir" jsonschema:"required"`
	// ExportDir receives exported point clouds. Defaults to OutputDir.
	ExportDir string `json:"export_dir,omitempty"`
	// CatalogPath enables the sqlite session catalog when set.
	CatalogPath   string `json:"catalog_path,omitempty"`
	PointCapacity int    `json:"point_capacity,omitempty"`

	Unproject UnprojectConfig `json:"unproject"`
	Motion    MotionConfig    `json:"motion"`
	Render    RenderConfig    `json:"render"`
	Recorder  RecorderConfig  `json:"recorder"`
	Export    ExportConfig    `json:"export"`
	Memory    MemoryConfig    `json:"memory"`
	Log       LogConfig       `json:"log"`
}

// UnprojectConfig controls which depth samples become points.
type UnprojectConfig struct {
	Stride        int     `json:"stride,omitempty"`
	MinConfidence string  `json:"min_confidence,omitempty" jsonschema:"enum=low,enum=medium,enum=high"`
	MinDepthM     float64 `json:"min_depth_m,omitempty"`
	// MaxDepthM of zero disables the far limit.
	MaxDepthM float64 `json:"max_depth_m,omitempty"`
	Sampling  string  `json:"sampling,omitempty" jsonschema:"enum=nearest,enum=bilinear"`
}

// MotionConfig gates accumulation on camera motion. Both zero disables the gate.
type MotionConfig struct {
	MinTranslationM float64 `json:"min_translation_m,omitempty"`
	MinRotationDeg  float64 `json:"min_rotation_deg,omitempty"`
}

// RenderConfig controls point drawing.
type RenderConfig struct {
	PointSize         float64 `json:"point_size,omitempty"`
	DepthScaledPoints bool    `json:"depth_scaled_points,omitempty"`
	// ConfidenceOpacity is a pointer so an explicit false survives defaulting.
	ConfidenceOpacity *bool  `json:"confidence_opacity,omitempty"`
	FrameBudget       string `json:"frame_budget,omitempty"`
	ColorMode         string `json:"color_mode,omitempty" jsonschema:"enum=rgb,enum=confidence"`
}

// RecorderConfig bounds the persistence pool.
type RecorderConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// MinFreeDisk is a human readable size such as "500MB". Less free space than this when a
	// session starts logs a warning.
	MinFreeDisk string `json:"min_free_disk,omitempty"`
}

// MemoryConfig enables the system memory monitor. A zero WarnUsedPercent disables it.
type MemoryConfig struct {
	WarnUsedPercent float64 `json:"warn_used_percent,omitempty"`
	PollInterval    string  `json:"poll_interval,omitempty"`
}

// ExportConfig selects the export file format.
type ExportConfig struct {
	Format   string `json:"format,omitempty" jsonschema:"enum=pcd,enum=las,enum=ply"`
	Encoding string `json:"encoding,omitempty" jsonschema:"enum=binary,enum=ascii"`
}

// LogConfig configures the engine logger.
type LogConfig struct {
	Level      logging.Level `json:"level"`
	File       string        `json:"file,omitempty"`
	MaxSizeMB  int           `json:"max_size_mb,omitempty"`
	MaxBackups int           `json:"max_backups,omitempty"`
}

// ApplyDefaults fills zero valued fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.ExportDir == "" {
		cfg.ExportDir = cfg.OutputDir
	}
	if cfg.PointCapacity == 0 {
		cfg.PointCapacity = DefaultPointCapacity
	}
	if cfg.Unproject.Stride == 0 {
		cfg.Unproject.Stride = 1
	}
	if cfg.Unproject.MinConfidence == "" {
		cfg.Unproject.MinConfidence = DefaultMinConfidence
	}
	if cfg.Unproject.MinDepthM == 0 {
		cfg.Unproject.MinDepthM = DefaultMinDepthM
	}
	if cfg.Unproject.Sampling == "" {
		cfg.Unproject.Sampling = DefaultSampling
	}
	if cfg.Render.PointSize == 0 {
		cfg.Render.PointSize = DefaultPointSize
	}
	if cfg.Render.ConfidenceOpacity == nil {
		enabled := true
		cfg.Render.ConfidenceOpacity = &enabled
	}
	if cfg.Render.FrameBudget == "" {
		cfg.Render.FrameBudget = DefaultFrameBudget.String()
	}
	if cfg.Recorder.Workers == 0 {
		cfg.Recorder.Workers = DefaultWorkers
	}
	if cfg.Recorder.QueueSize == 0 {
		cfg.Recorder.QueueSize = DefaultQueueSize
	}
	if cfg.Recorder.MinFreeDisk == "" {
		cfg.Recorder.MinFreeDisk = DefaultMinFreeDisk
	}
	if cfg.Memory.WarnUsedPercent > 0 && cfg.Memory.PollInterval == "" {
		cfg.Memory.PollInterval = DefaultMemoryPoll.String()
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = DefaultExportFormat
	}
	if cfg.Export.Encoding == "" {
		cfg.Export.Encoding = DefaultEncoding
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = DefaultLogMaxSizeMB
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = DefaultLogMaxBackups
		}
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.OutputDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "output_dir")
	}
	if cfg.PointCapacity < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("point_capacity must be positive, got %d", cfg.PointCapacity))
	}
	if cfg.CatalogPath != "" && filepath.Ext(cfg.CatalogPath) == "" {
		return utils.NewConfigValidationError(path, errors.Errorf("catalog_path %q needs a file extension", cfg.CatalogPath))
	}
	if err := cfg.Unproject.Validate(joinPath(path, "unproject")); err != nil {
		return err
	}
	if err := cfg.Motion.Validate(joinPath(path, "motion")); err != nil {
		return err
	}
	if err := cfg.Render.Validate(joinPath(path, "render")); err != nil {
		return err
	}
	if err := cfg.Recorder.Validate(joinPath(path, "recorder")); err != nil {
		return err
	}
	if err := cfg.Memory.Validate(joinPath(path, "memory")); err != nil {
		return err
	}
	return cfg.Export.Validate(joinPath(path, "export"))
}

// Validate ensures all parts of the config are valid.
func (cfg *UnprojectConfig) Validate(path string) error {
	if cfg.Stride < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("stride must be positive, got %d", cfg.Stride))
	}
	switch cfg.MinConfidence {
	case "", "low", "medium", "high":
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown min_confidence %q", cfg.MinConfidence))
	}
	switch cfg.Sampling {
	case "", "nearest", "bilinear":
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown sampling %q", cfg.Sampling))
	}
	if cfg.MinDepthM < 0 || cfg.MaxDepthM < 0 {
		return utils.NewConfigValidationError(path, errors.New("depth limits must not be negative"))
	}
	if cfg.MaxDepthM != 0 && cfg.MaxDepthM <= cfg.MinDepthM {
		return utils.NewConfigValidationError(path,
			errors.Errorf("max_depth_m (%v) must exceed min_depth_m (%v)", cfg.MaxDepthM, cfg.MinDepthM))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (cfg *MotionConfig) Validate(path string) error {
	if cfg.MinTranslationM < 0 || cfg.MinRotationDeg < 0 {
		return utils.NewConfigValidationError(path, errors.New("motion thresholds must not be negative"))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (cfg *RenderConfig) Validate(path string) error {
	if cfg.PointSize < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("point_size must be positive, got %v", cfg.PointSize))
	}
	if cfg.FrameBudget != "" {
		if _, err := time.ParseDuration(cfg.FrameBudget); err != nil {
			return utils.NewConfigValidationError(path, errors.Wrap(err, "error validating frame_budget"))
		}
	}
	switch cfg.ColorMode {
	case "", "rgb", "confidence":
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown color_mode %q", cfg.ColorMode))
	}
	return nil
}

// Budget returns the parsed frame budget, or the default when unset or unparsable.
func (cfg *RenderConfig) Budget() time.Duration {
	budget, err := time.ParseDuration(cfg.FrameBudget)
	if err != nil || budget <= 0 {
		return DefaultFrameBudget
	}
	return budget
}

// Validate ensures all parts of the config are valid.
func (cfg *RecorderConfig) Validate(path string) error {
	if cfg.Workers < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("workers must be positive, got %d", cfg.Workers))
	}
	if cfg.QueueSize < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("queue_size must be positive, got %d", cfg.QueueSize))
	}
	if cfg.MinFreeDisk != "" {
		if _, err := units.FromHumanSize(cfg.MinFreeDisk); err != nil {
			return utils.NewConfigValidationError(path, errors.Wrap(err, "error validating min_free_disk"))
		}
	}
	return nil
}

// MinFreeDiskBytes returns the parsed free space threshold, or zero when unset or unparsable.
func (cfg *RecorderConfig) MinFreeDiskBytes() int64 {
	size, err := units.FromHumanSize(cfg.MinFreeDisk)
	if err != nil {
		return 0
	}
	return size
}

// Validate ensures all parts of the config are valid.
func (cfg *MemoryConfig) Validate(path string) error {
	if cfg.WarnUsedPercent < 0 || cfg.WarnUsedPercent > 100 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("warn_used_percent must be between 0 and 100, got %v", cfg.WarnUsedPercent))
	}
	if cfg.PollInterval != "" {
		if interval, err := time.ParseDuration(cfg.PollInterval); err != nil || interval <= 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("invalid poll_interval %q", cfg.PollInterval))
		}
	}
	return nil
}

// Interval returns the parsed poll interval, or the default when unset or unparsable.
func (cfg *MemoryConfig) Interval() time.Duration {
	interval, err := time.ParseDuration(cfg.PollInterval)
	if err != nil || interval <= 0 {
		return DefaultMemoryPoll
	}
	return interval
}

// Validate ensures all parts of the config are valid.
func (cfg *ExportConfig) Validate(path string) error {
	switch cfg.Format {
	case "", "pcd", "las", "ply":
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown format %q", cfg.Format))
	}
	switch cfg.Encoding {
	case "", "binary", "ascii":
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown encoding %q", cfg.Encoding))
	}
	if cfg.Format == "las" && cfg.Encoding == "ascii" {
		return utils.NewConfigValidationError(path, errors.New("las export is binary only"))
	}
	return nil
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return fmt.Sprintf("%s.%s", path, field)
}
