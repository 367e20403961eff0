package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"github.com/identify/scanengine/logging"
)

// Read reads a config from the given file. Environment references such as ${HOME} are expanded
// before decoding.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Config{
		ConfigFilePath: originalPath,
	}
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewLogger builds the engine logger described by the log section. The returned closer releases
// the log file, if any, and is never nil.
func (cfg *LogConfig) NewLogger(name string) (logging.Logger, io.Closer) {
	logger := logging.NewLogger(name)
	logger.SetLevel(cfg.Level)
	if cfg.File == "" {
		return logger, io.NopCloser(nil)
	}

	appender, closer := logging.NewFileAppender(logging.FileAppenderConfig{
		Filename:   cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	})
	logger.AddAppender(appender)
	return logger, closer
}
