// Package home resolves the on-disk root used to persist the engine's
// embedded store and configuration between process restarts.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the scan2doc home directory.
	DefaultDirName = ".scan2doc"

	// DataDirName is the subdirectory holding the embedded store file.
	DataDirName = "data"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// DBFileName is the SQLite object store file name.
	DBFileName = "scan2doc.db"
)

// Dir represents the scan2doc home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.scan2doc).
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

// DBPath returns the path to the embedded object store file.
func (d *Dir) DBPath() string {
	return filepath.Join(d.DataPath(), DBFileName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.DataPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
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
