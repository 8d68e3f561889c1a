package logging

import (
	"io"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls on-disk log rotation. Zero values select the
// defaults noted on each field.
type RotationConfig struct {
	// Path is the active log file. Rotated files are written next to it.
	Path string
	// MaxSizeMB rotates the file once it grows past this size. Defaults to 100.
	MaxSizeMB int
	// MaxBackups caps retained rotated files. Defaults to 5.
	MaxBackups int
	// MaxAgeDays removes rotated files older than this. Defaults to 28.
	MaxAgeDays int
	Compress   bool
}

// NewRotatingWriter returns a writer appending to cfg.Path with size based
// rotation. It returns nil when no path is configured.
func NewRotatingWriter(cfg RotationConfig) io.WriteCloser {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 28
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
