// Package canvas implements the per-entity persistence engine for a
// single canvas directory: the node/edge codec, the coalescing write
// scheduler, the entity stores, the workspace manifest with its v1
// migration, and the canvas metadata and UI state files.
package canvas

import (
	"io/fs"
	"os"
)

// FS is the filesystem capability the engine writes through. Production
// code uses OSFS; tests substitute doubles to inject faults.
type FS interface {
	Exists(path string) bool
	MkdirAll(path string) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Rename(oldPath, newPath string) error
	RemoveAll(path string) error
	ReadDir(path string) ([]fs.DirEntry, error)
}

// OSFS is the operating system implementation of FS.
type OSFS struct{}

func (OSFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFS) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755) //nolint:gosec // G301: canvas data directories
}

func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OSFS) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644) //nolint:gosec // G306: canvas files are not secrets
}

func (OSFS) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (OSFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (OSFS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}
