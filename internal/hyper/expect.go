package hyper

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultExpectTTL bounds how long a self-induced filesystem change waits
// for its echo event.
const DefaultExpectTTL = 30 * time.Second

type expectKey struct {
	op   EventOp
	path string
	to   string
}

// expectations records filesystem changes the syncer made itself so that the
// watcher's echo of them is not processed a second time.
type expectations struct {
	mu      sync.Mutex
	clock   Clock
	ttl     time.Duration
	items   map[expectKey]time.Time
	removed map[string]time.Time // subtrees removed by the syncer
}

func newExpectations(clock Clock, ttl time.Duration) *expectations {
	return &expectations{
		clock:   clock,
		ttl:     ttl,
		items:   make(map[expectKey]time.Time),
		removed: make(map[string]time.Time),
	}
}

// rename expects the echo of a rename from -> to. Depending on the backend it
// arrives as one Name event or as a Delete plus a New.
func (e *expectations) rename(from, to string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	deadline := e.clock.Now().Add(e.ttl)
	e.items[expectKey{op: EventName, path: from, to: to}] = deadline
	e.items[expectKey{op: EventDelete, path: from}] = deadline
	e.items[expectKey{op: EventNew, path: to}] = deadline
}

func (e *expectations) create(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items[expectKey{op: EventNew, path: path}] = e.clock.Now().Add(e.ttl)
}

// remove expects Delete events for path and everything below it, up to and
// including the Delete of path itself.
func (e *expectations) remove(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed[path] = e.clock.Now().Add(e.ttl)
}

// resume restarts the wait of every pending expectation. Echoes queue up
// while nothing consumes events, e.g. during the initial scan.
func (e *expectations) resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	deadline := e.clock.Now().Add(e.ttl)
	for k := range e.items {
		e.items[k] = deadline
	}
	for p := range e.removed {
		e.removed[p] = deadline
	}
}

// match reports whether ev is an expected echo. Single events are consumed.
// A removed subtree matches the Deletes below it until the Delete of its top
// arrives, which is reported last.
func (e *expectations) match(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	e.prune(now)

	k := expectKey{op: ev.Op, path: ev.Path()}
	if ev.Op == EventName {
		k.to = ev.NewPath()
	}
	if _, ok := e.items[k]; ok {
		delete(e.items, k)
		return true
	}
	if ev.Op != EventDelete {
		return false
	}
	p := ev.Path()
	for root := range e.removed {
		if p == root {
			delete(e.removed, root)
			return true
		}
		if strings.HasPrefix(p, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (e *expectations) prune(now time.Time) {
	for k, deadline := range e.items {
		if now.After(deadline) {
			delete(e.items, k)
		}
	}
	for p, deadline := range e.removed {
		if now.After(deadline) {
			delete(e.removed, p)
		}
	}
}
