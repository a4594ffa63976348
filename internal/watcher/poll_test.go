package watcher

import (
	"reflect"
	"testing"
)

func TestTopMost(t *testing.T) {
	got := topMost([]string{"/r/a", "/r/a b", "/r/a/x", "/r/a/x/y", "/r/ab", "/r/c/d"})
	want := []string{"/r/a", "/r/a b", "/r/ab", "/r/c/d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("topMost() = %v, want %v", got, want)
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		prev snapshot
		cur  snapshot
		want []rawEvent
	}{
		{
			name: "no change",
			prev: snapshot{"/r/a": {isDir: true, inode: 1}},
			cur:  snapshot{"/r/a": {isDir: true, inode: 1}},
			want: nil,
		},
		{
			name: "new directory with contents",
			prev: snapshot{},
			cur: snapshot{
				"/r/a":       {isDir: true, inode: 1},
				"/r/a/b.mp4": {inode: 2},
			},
			want: []rawEvent{{op: rawCreate, path: "/r/a", isDir: true}},
		},
		{
			name: "removed directory with contents",
			prev: snapshot{
				"/r/a":       {isDir: true, inode: 1},
				"/r/a/b.mp4": {inode: 2},
			},
			cur:  snapshot{},
			want: []rawEvent{{op: rawRemove, path: "/r/a"}},
		},
		{
			name: "rename in place",
			prev: snapshot{
				"/r/a":       {isDir: true, inode: 1},
				"/r/a/b.mp4": {inode: 2},
			},
			cur: snapshot{
				"/r/z":       {isDir: true, inode: 1},
				"/r/z/b.mp4": {inode: 2},
			},
			want: []rawEvent{{op: rawRenameBoth, path: "/r/a", to: "/r/z", isDir: true}},
		},
		{
			name: "move across directories is remove and create",
			prev: snapshot{
				"/r/a":       {isDir: true, inode: 1},
				"/r/b":       {isDir: true, inode: 2},
				"/r/a/c.mp4": {inode: 3},
			},
			cur: snapshot{
				"/r/a":       {isDir: true, inode: 1},
				"/r/b":       {isDir: true, inode: 2},
				"/r/b/c.mp4": {inode: 3},
			},
			want: []rawEvent{
				{op: rawRemove, path: "/r/a/c.mp4"},
				{op: rawCreate, path: "/r/b/c.mp4"},
			},
		},
		{
			name: "unknown inodes never pair",
			prev: snapshot{"/r/a.mp4": {}},
			cur:  snapshot{"/r/b.mp4": {}},
			want: []rawEvent{
				{op: rawRemove, path: "/r/a.mp4"},
				{op: rawCreate, path: "/r/b.mp4"},
			},
		},
		{
			name: "file replaced by directory",
			prev: snapshot{"/r/a": {inode: 4}},
			cur:  snapshot{"/r/b": {isDir: true, inode: 4}},
			want: []rawEvent{
				{op: rawRemove, path: "/r/a"},
				{op: rawCreate, path: "/r/b", isDir: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diff(tt.prev, tt.cur)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("diff() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
