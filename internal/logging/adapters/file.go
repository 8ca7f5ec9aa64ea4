package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"scrapekit/internal/logging/types"
)

// FileAdapter writes entries to a size-rotated log file
type FileAdapter struct {
	name   string
	format string
	writer *lumberjack.Logger
	mu     sync.Mutex
	closed bool
}

// FileConfig represents configuration for the file adapter
type FileConfig struct {
	FilePath   string `yaml:"file_path"`
	Format     string `yaml:"format"`      // json or text
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotate after this many megabytes
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
	CreateDirs bool   `yaml:"create_dirs"`
}

// NewFileAdapter creates a new file adapter
func NewFileAdapter(name string, config FileConfig) (*FileAdapter, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for file adapter")
	}
	if config.Format == "" {
		config.Format = "json"
	}
	if config.MaxSizeMB == 0 {
		config.MaxSizeMB = 100
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 10
	}

	if config.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directories: %w", err)
		}
	}

	return &FileAdapter{
		name:   name,
		format: config.Format,
		writer: &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSizeMB,
			MaxAge:     config.MaxAgeDays,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		},
	}, nil
}

func (a *FileAdapter) Write(entry *types.LogEntry) error {
	line, err := formatEntry(entry, a.format, false)
	if err != nil {
		return fmt.Errorf("failed to format log entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("file adapter %s is closed", a.name)
	}
	_, err = a.writer.Write(append(line, '\n'))
	return err
}

// Rotate forces the current file to be rotated
func (a *FileAdapter) Rotate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writer.Rotate()
}

func (a *FileAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.writer.Close()
}

func (a *FileAdapter) Health() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("file adapter %s is closed", a.name)
	}
	return nil
}

func (a *FileAdapter) Name() string {
	return a.name
}
