package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the quizmill home directory.
	DefaultDirName = ".quizmill"

	// DataDirName is the subdirectory for the SQLite store.
	DataDirName = "data"

	// DocsDirName is the subdirectory for uploaded source documents.
	DocsDirName = "docs"

	// ExportsDirName is the subdirectory for question exports.
	ExportsDirName = "exports"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// DBFileName is the SQLite database file name.
	DBFileName = "quizmill.db"

	// MirrorFileName is the client-side job mirror file name.
	MirrorFileName = "mirror.json"
)

// Dir represents the quizmill home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.quizmill).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the path to the data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// DBPath returns the path to the SQLite database file.
func (d *Dir) DBPath() string {
	return filepath.Join(d.DataPath(), DBFileName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// MirrorPath returns the path to the local job mirror file.
func (d *Dir) MirrorPath() string {
	return filepath.Join(d.path, MirrorFileName)
}

// DocsPath returns the directory holding uploaded documents.
func (d *Dir) DocsPath() string {
	return filepath.Join(d.path, DocsDirName)
}

// DocPath returns the path of a stored document. Storage keys are
// server-generated file names, never user input.
func (d *Dir) DocPath(storageKey string) string {
	return filepath.Join(d.DocsPath(), storageKey)
}

// ExportsPath returns the directory for exported question files.
func (d *Dir) ExportsPath() string {
	return filepath.Join(d.path, ExportsDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.DataPath(), d.DocsPath(), d.ExportsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
