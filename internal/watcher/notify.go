package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	hyperfs "hyper-go/internal/fs"
	"hyper-go/internal/hyper"
)

// pairWindow bounds the gap between the two halves of a rename within one
// directory. Later Creates are reported on their own.
const pairWindow = 500 * time.Millisecond

const maxSeen = 4096

type renameFrom struct {
	path  string
	isDir bool
	inode uint64
	at    time.Time
}

// notifyBackend watches every directory of the tree with fsnotify. fsnotify
// only watches single directories, so new directories are added as they
// appear and dropped when they go away.
type notifyBackend struct {
	root    string
	fsw     *fsnotify.Watcher
	emit    func(rawEvent)
	ignored func(string) bool
	logger  hyper.Logger

	dirs map[string]bool // watched directories
	// inodes identifies every entry known below root. A Create only
	// completes a rename when it carries the inode that went away.
	inodes map[string]uint64
	// from holds the latest unpaired rename per parent directory.
	from map[string]renameFrom
	// seen suppresses repeated Remove and Rename notifications for a path.
	seen map[string]fsnotify.Op
	now  func() time.Time
}

func newNotifyBackend(root string, emit func(rawEvent), ignored func(string) bool, logger hyper.Logger) (*notifyBackend, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	n := &notifyBackend{
		root:    root,
		fsw:     fsw,
		emit:    emit,
		ignored: ignored,
		logger:  logger,
		dirs:    make(map[string]bool),
		inodes:  make(map[string]uint64),
		from:    make(map[string]renameFrom),
		seen:    make(map[string]fsnotify.Op),
		now:     time.Now,
	}
	if err := n.watchTree(root, false); err != nil {
		fsw.Close()
		return nil, err
	}
	return n, nil
}

func (n *notifyBackend) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.fsw.Events:
			if !ok {
				return nil
			}
			n.handle(ev)
		case err, ok := <-n.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				n.logger.Error("notification queue overflowed, changes were lost", "root", n.root)
				continue
			}
			n.logger.Warn("watch error", "error", err)
		}
	}
}

func (n *notifyBackend) close() error { return n.fsw.Close() }

func (n *notifyBackend) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if path == n.root {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		delete(n.seen, path)
		n.created(path)
	case ev.Has(fsnotify.Rename):
		if n.repeated(path, fsnotify.Rename) {
			return
		}
		isDir := n.dirs[path]
		from := renameFrom{path: path, isDir: isDir, inode: n.inodes[path], at: n.now()}
		n.forget(path, isDir)
		n.from[filepath.Dir(path)] = from
		n.emit(rawEvent{op: rawRenameFrom, path: path})
	case ev.Has(fsnotify.Remove):
		if n.repeated(path, fsnotify.Remove) {
			return
		}
		n.forget(path, n.dirs[path])
		n.emit(rawEvent{op: rawRemove, path: path})
	}
	// Write and Chmod carry no structural change.
}

func (n *notifyBackend) created(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		// Gone again already; its Remove follows.
		return
	}
	isDir := info.IsDir()
	inode := hyperfs.Inode(info)
	n.inodes[path] = inode

	parent := filepath.Dir(path)
	if from, ok := n.from[parent]; ok {
		delete(n.from, parent)
		// Inodes are 0 where the platform does not expose them; the pair
		// then rests on timing alone.
		if from.isDir == isDir && from.inode == inode && n.now().Sub(from.at) <= pairWindow {
			if isDir {
				n.watch(path, false)
			}
			n.emit(rawEvent{op: rawRenameBoth, path: from.path, to: path, isDir: isDir})
			return
		}
	}

	if !isDir {
		n.emit(rawEvent{op: rawCreate, path: path})
		return
	}
	if err := n.watchTree(path, true); err != nil {
		n.logger.Warn("watching directory", "path", path, "error", err)
		if !n.dirs[path] {
			n.emit(rawEvent{op: rawCreate, path: path, isDir: true})
		}
	}
}

// repeated reports whether op was already seen for path since its last Create.
func (n *notifyBackend) repeated(path string, op fsnotify.Op) bool {
	if n.seen[path] == op {
		return true
	}
	if len(n.seen) >= maxSeen {
		clear(n.seen)
	}
	n.seen[path] = op
	return false
}

func (n *notifyBackend) watch(dir string, synthesize bool) {
	if err := n.watchTree(dir, synthesize); err != nil {
		n.logger.Warn("watching directory", "path", dir, "error", err)
	}
}

// watchTree adds watches for dir and every directory below it. With
// synthesize set, a Create is emitted for dir and each entry found. A
// directory is watched before it is listed, so nothing created in between
// is missed.
func (n *notifyBackend) watchTree(dir string, synthesize bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			n.logger.Warn("skipping unreadable directory", "path", path, "error", err)
			return nil
		}
		if path != n.root && n.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := n.fsw.Add(path); err != nil {
				return err
			}
			n.dirs[path] = true
		}
		if path != n.root {
			if info, err := d.Info(); err == nil {
				n.inodes[path] = hyperfs.Inode(info)
			}
		}
		if synthesize {
			n.emit(rawEvent{op: rawCreate, path: path, isDir: d.IsDir()})
		}
		return nil
	})
}

// forget drops what is known about path and, for a directory, everything
// below it.
func (n *notifyBackend) forget(path string, isDir bool) {
	delete(n.inodes, path)
	if !isDir {
		return
	}
	prefix := path + string(filepath.Separator)
	for p := range n.inodes {
		if strings.HasPrefix(p, prefix) {
			delete(n.inodes, p)
		}
	}
	n.unwatchTree(path)
}

// unwatchTree drops the watches of path and everything below it.
func (n *notifyBackend) unwatchTree(path string) {
	prefix := path + string(filepath.Separator)
	for dir := range n.dirs {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(n.dirs, dir)
			// The kernel drops watches of deleted directories on its own.
			_ = n.fsw.Remove(dir)
		}
	}
}
