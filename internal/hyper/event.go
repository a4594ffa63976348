package hyper

import (
	"fmt"
	"path/filepath"
)

// EventOp is the kind of a path-level filesystem event.
type EventOp uint8

const (
	EventNew EventOp = iota + 1
	EventName
	EventDelete
)

func (op EventOp) String() string {
	switch op {
	case EventNew:
		return "new"
	case EventName:
		return "name"
	case EventDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Event is a normalised filesystem notification produced by a watcher.
// Dir is the absolute parent directory. Name is the entry name (the old name
// for EventName) and NewName is set only for EventName. IsDir is unknown, and
// false, for EventDelete since the entry is already gone.
type Event struct {
	Op      EventOp
	Dir     string
	Name    string
	NewName string
	IsDir   bool
}

// NewEvent returns an EventNew for path.
func NewEvent(path string, isDir bool) Event {
	return Event{Op: EventNew, Dir: filepath.Dir(path), Name: filepath.Base(path), IsDir: isDir}
}

// NameEvent returns an EventName for a rename from -> to within one directory.
func NameEvent(from, to string, isDir bool) Event {
	return Event{Op: EventName, Dir: filepath.Dir(from), Name: filepath.Base(from), NewName: filepath.Base(to), IsDir: isDir}
}

// DeleteEvent returns an EventDelete for path.
func DeleteEvent(path string) Event {
	return Event{Op: EventDelete, Dir: filepath.Dir(path), Name: filepath.Base(path)}
}

// Path returns the absolute path the event refers to.
func (e Event) Path() string { return filepath.Join(e.Dir, e.Name) }

// NewPath returns the destination path of an EventName.
func (e Event) NewPath() string { return filepath.Join(e.Dir, e.NewName) }

func (e Event) String() string {
	if e.Op == EventName {
		return fmt.Sprintf("%s %s -> %s", e.Op, e.Path(), e.NewName)
	}
	return fmt.Sprintf("%s %s", e.Op, e.Path())
}
