//go:build !linux

package fs

import (
	"io/fs"

	"hyper-go/internal/hyper"
)

// ExtractStatData falls back to the modification time when the platform's
// stat layout is not known.
func (m *OSFilesystemManager) ExtractStatData(info fs.FileInfo) (*hyper.StatData, error) {
	return &hyper.StatData{Atime: info.ModTime()}, nil
}

// Inode returns 0; inodes are only read on Linux.
func Inode(info fs.FileInfo) uint64 { return 0 }
