package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"hyper-go/internal/hyper"
)

// FaultyFilesystem wraps a real FilesystemManager and fails selected calls.
type FaultyFilesystem struct {
	hyper.FilesystemManager

	mu          sync.Mutex
	readDirErrs map[string]error
	renameErrs  map[string]error
	renames     [][2]string
}

// NewFaultyFilesystem wraps inner.
func NewFaultyFilesystem(inner hyper.FilesystemManager) *FaultyFilesystem {
	return &FaultyFilesystem{
		FilesystemManager: inner,
		readDirErrs:       make(map[string]error),
		renameErrs:        make(map[string]error),
	}
}

// FailReadDir makes ReadDir of path return err.
func (f *FaultyFilesystem) FailReadDir(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readDirErrs[filepath.Clean(path)] = err
}

// FailRename makes any Rename onto path return err.
func (f *FaultyFilesystem) FailRename(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameErrs[filepath.Clean(path)] = err
}

// FailRenames makes every Rename return err.
func (f *FaultyFilesystem) FailRenames(err error) {
	f.FailRename("*", err)
}

// Renames returns the successful renames performed so far.
func (f *FaultyFilesystem) Renames() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.renames...)
}

func (f *FaultyFilesystem) ReadDir(path string) ([]fs.DirEntry, error) {
	f.mu.Lock()
	err := f.readDirErrs[filepath.Clean(path)]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.FilesystemManager.ReadDir(path)
}

func (f *FaultyFilesystem) Rename(from, to string) error {
	f.mu.Lock()
	err, ok := f.renameErrs[filepath.Clean(to)]
	if !ok {
		err = f.renameErrs["*"]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := f.FilesystemManager.Rename(from, to); err != nil {
		return err
	}
	f.mu.Lock()
	f.renames = append(f.renames, [2]string{from, to})
	f.mu.Unlock()
	return nil
}

// WriteTree creates files under root. Keys are slash-separated relative
// paths; a key ending in "/" creates an empty directory.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if rel[len(rel)-1] == '/' {
			if err := os.MkdirAll(path, 0o755); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}
