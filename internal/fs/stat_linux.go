//go:build linux

package fs

import (
	"fmt"
	"io/fs"
	"syscall"
	"time"

	"hyper-go/internal/hyper"
)

// ExtractStatData extracts Linux-specific stat data from a FileInfo.
func (m *OSFilesystemManager) ExtractStatData(info fs.FileInfo) (*hyper.StatData, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("cannot extract stat data: expected *syscall.Stat_t, got %T", info.Sys())
	}

	return &hyper.StatData{
		Inode: stat.Ino,
		Atime: time.Unix(stat.Atim.Sec, stat.Atim.Nsec),
		// Birth time is not available on most Linux filesystems
	}, nil
}

// Inode returns the inode number of info, or 0 if it is unknown.
func Inode(info fs.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
