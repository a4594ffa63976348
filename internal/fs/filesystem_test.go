package fs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestOSFilesystemManager_ReadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, n := range []string{"c", "a", "b"} {
		writeFile(t, filepath.Join(dir, n), n)
	}

	m := NewOSFilesystemManager(nil)
	entries, err := m.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("ReadDir() names = %v, want sorted", names)
	}

	if _, err := m.ReadDir(filepath.Join(dir, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadDir(missing) error = %v, want ErrNotExist", err)
	}
}

func TestOSFilesystemManager_Rename(t *testing.T) {
	t.Parallel()
	m := NewOSFilesystemManager(nil)

	t.Run("moves the entry", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a"), "x")
		if err := m.Rename(filepath.Join(dir, "a"), filepath.Join(dir, "b")); err != nil {
			t.Fatalf("Rename() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "b")); err != nil {
			t.Errorf("target missing: %v", err)
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a"), "a")
		writeFile(t, filepath.Join(dir, "b"), "b")
		err := m.Rename(filepath.Join(dir, "a"), filepath.Join(dir, "b"))
		if !errors.Is(err, fs.ErrExist) {
			t.Fatalf("Rename() error = %v, want ErrExist", err)
		}
		data, _ := os.ReadFile(filepath.Join(dir, "b"))
		if string(data) != "b" {
			t.Errorf("target overwritten: %q", data)
		}
	})
}

func TestOSFilesystemManager_Open(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f"), "content")
	m := NewOSFilesystemManager(nil)

	rc, err := m.Open(filepath.Join(dir, "f"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "content" {
		t.Errorf("Open() content = %q", data)
	}

	if _, err := m.Open(dir); err == nil {
		t.Error("Open(directory) should fail")
	}
}

func TestOSFilesystemManager_MkdirRemoveAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := NewOSFilesystemManager(nil)

	sub := filepath.Join(dir, "news")
	if err := m.Mkdir(sub); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := m.Mkdir(sub); !errors.Is(err, fs.ErrExist) {
		t.Errorf("second Mkdir() error = %v, want ErrExist", err)
	}
	writeFile(t, filepath.Join(sub, "clip.mp4"), "x")

	if err := m.RemoveAll(sub); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if _, err := os.Stat(sub); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("directory still present: %v", err)
	}
}

func TestOSFilesystemManager_IsIgnored(t *testing.T) {
	t.Parallel()
	m := NewOSFilesystemManager([]string{"*.upload-in-progress"})
	if !m.IsIgnored("a.mp4.upload-in-progress") {
		t.Error("upload marker should be ignored")
	}
	if m.IsIgnored("a.mp4") {
		t.Error("a.mp4 should not be ignored")
	}
}

func TestOSFilesystemManager_ExtractStatData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f"), "x")
	m := NewOSFilesystemManager(nil)

	info, err := m.Stat(filepath.Join(dir, "f"))
	if err != nil {
		t.Fatal(err)
	}
	sd, err := m.ExtractStatData(info)
	if err != nil {
		t.Fatalf("ExtractStatData() error = %v", err)
	}
	if sd.Atime.IsZero() {
		t.Error("Atime is zero")
	}
	if sd.Inode != Inode(info) {
		t.Errorf("Inode = %d, Inode(info) = %d", sd.Inode, Inode(info))
	}
}
