package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	hyperfs "hyper-go/internal/fs"
	"hyper-go/internal/hyper"
)

type pollEntry struct {
	isDir bool
	inode uint64
}

type snapshot map[string]pollEntry

// pollBackend diffs periodic snapshots of the tree. It needs no kernel
// support and is used where notifications are unreliable, e.g. network
// mounts.
type pollBackend struct {
	root     string
	interval time.Duration
	emit     func(rawEvent)
	ignored  func(string) bool
	logger   hyper.Logger
	prev     snapshot
}

func newPollBackend(root string, interval time.Duration, emit func(rawEvent), ignored func(string) bool, logger hyper.Logger) (*pollBackend, error) {
	p := &pollBackend{
		root:     root,
		interval: interval,
		emit:     emit,
		ignored:  ignored,
		logger:   logger,
	}
	snap, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	p.prev = snap
	return p, nil
}

func (p *pollBackend) run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := p.snapshot()
			if err != nil {
				p.logger.Warn("polling root", "root", p.root, "error", err)
				continue
			}
			for _, ev := range diff(p.prev, cur) {
				p.emit(ev)
			}
			p.prev = cur
		}
	}
}

func (p *pollBackend) close() error { return nil }

func (p *pollBackend) snapshot() (snapshot, error) {
	snap := make(snapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			// Vanished or unreadable; the next poll sees it again.
			return nil
		}
		if path == p.root {
			return nil
		}
		if p.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[path] = pollEntry{isDir: d.IsDir(), inode: hyperfs.Inode(info)}
		return nil
	})
	return snap, err
}

// diff reports the structural changes from prev to cur: renames within one
// directory matched by inode, then top-most removals, then top-most
// creations. Entries below a removed, created or renamed directory are
// covered by their ancestor's event.
func diff(prev, cur snapshot) []rawEvent {
	var removed, added []string
	for path := range prev {
		if _, ok := cur[path]; !ok {
			removed = append(removed, path)
		}
	}
	for path := range cur {
		if _, ok := prev[path]; !ok {
			added = append(added, path)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)
	removed = topMost(removed)
	added = topMost(added)

	type slot struct {
		dir   string
		inode uint64
	}
	byInode := make(map[slot]string)
	for _, path := range added {
		if e := cur[path]; e.inode != 0 {
			byInode[slot{filepath.Dir(path), e.inode}] = path
		}
	}

	var out, removes []rawEvent
	renamedTo := make(map[string]bool)
	for _, path := range removed {
		e := prev[path]
		if to, ok := byInode[slot{filepath.Dir(path), e.inode}]; ok && e.inode != 0 && cur[to].isDir == e.isDir && !renamedTo[to] {
			renamedTo[to] = true
			out = append(out, rawEvent{op: rawRenameBoth, path: path, to: to, isDir: e.isDir})
			continue
		}
		removes = append(removes, rawEvent{op: rawRemove, path: path})
	}
	out = append(out, removes...)
	for _, path := range added {
		if renamedTo[path] {
			continue
		}
		out = append(out, rawEvent{op: rawCreate, path: path, isDir: cur[path].isDir})
	}
	return out
}

// topMost drops every path that lies below another path of the list.
func topMost(paths []string) []string {
	set := make(map[string]bool, len(paths))
	for _, path := range paths {
		set[path] = true
	}
	var out []string
	for _, path := range paths {
		if !hasAncestor(set, path) {
			out = append(out, path)
		}
	}
	return out
}

func hasAncestor(set map[string]bool, path string) bool {
	for dir := filepath.Dir(path); dir != path; path, dir = dir, filepath.Dir(dir) {
		if set[dir] {
			return true
		}
	}
	return false
}
