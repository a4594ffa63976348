package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"hyper-go/internal/hyper"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
// It performs actual filesystem operations using the os package.
type OSFilesystemManager struct {
	ignore *IgnoreMatcher
}

// NewOSFilesystemManager creates a filesystem manager that operates on the
// real filesystem and ignores entries matching the given patterns.
func NewOSFilesystemManager(ignore []string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: NewIgnoreMatcher(ignore)}
}

// ReadDir lists a directory, sorted by name.
func (m *OSFilesystemManager) ReadDir(path string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// Stat returns fresh file info for a path. Symlinks are not followed.
func (m *OSFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(path string) (io.ReadCloser, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("cannot open non-regular file: %s", path)
	}
	return os.Open(path)
}

// Rename moves from to to. os.Rename silently replaces an existing file, so
// the target is checked first.
func (m *OSFilesystemManager) Rename(from, to string) error {
	if _, err := os.Lstat(to); err == nil {
		return fmt.Errorf("renaming %s: %w", to, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking rename target: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}
	return nil
}

// Mkdir creates a single directory.
func (m *OSFilesystemManager) Mkdir(path string) error {
	return os.Mkdir(path, 0o755)
}

// RemoveAll removes path and everything below it.
func (m *OSFilesystemManager) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// IsIgnored reports whether an entry name matches an ignore pattern.
func (m *OSFilesystemManager) IsIgnored(name string) bool {
	return m.ignore.Match(name)
}

// Compile-time check that OSFilesystemManager implements hyper.FilesystemManager interface
var _ hyper.FilesystemManager = (*OSFilesystemManager)(nil)
