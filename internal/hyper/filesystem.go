package hyper

import (
	"io"
	"io/fs"
	"time"
)

// StatData holds platform-specific stat fields.
type StatData struct {
	Inode     uint64
	Atime     time.Time
	BirthTime Timestamp // not available on most Unix filesystems
}

// FilesystemManager provides the filesystem operations the engine needs.
// It abstracts file access so scans can be tested with injected failures.
type FilesystemManager interface {
	// ReadDir lists a directory, sorted by name.
	ReadDir(path string) ([]fs.DirEntry, error)

	// Stat returns fresh file info for a path.
	Stat(path string) (fs.FileInfo, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Rename moves from to to. It refuses to overwrite an existing entry.
	Rename(from, to string) error

	// Mkdir creates a single directory.
	Mkdir(path string) error

	// RemoveAll removes path and everything below it.
	RemoveAll(path string) error

	// IsIgnored reports whether an entry name is excluded from indexing,
	// e.g. files still being written.
	IsIgnored(name string) bool

	// ExtractStatData extracts platform-specific stat data from a FileInfo.
	ExtractStatData(info fs.FileInfo) (*StatData, error)
}
