package watcher

import (
	"path/filepath"
	"sync"
	"time"
)

// DefaultRenameTimeout is how long a RenameFrom waits for its counterpart.
const DefaultRenameTimeout = 2 * time.Second

// RenameControl holds the paths that were renamed away and not yet matched
// with a destination. Each pending path owns one timer. If the timer fires
// first the path is reported as removed; if Decline comes first nothing is
// reported.
type RenameControl struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]chan struct{}
	expire  func(path string)
	closed  bool
	wg      sync.WaitGroup
}

// NewRenameControl creates a RenameControl that calls expire, exactly once
// per timed-out path, from the timer's goroutine.
func NewRenameControl(timeout time.Duration, expire func(path string)) *RenameControl {
	if timeout <= 0 {
		timeout = DefaultRenameTimeout
	}
	return &RenameControl{
		timeout: timeout,
		pending: make(map[string]chan struct{}),
		expire:  expire,
	}
}

// From starts the timer for path. It returns false if a timer is already
// pending for the path, which is left running.
func (rc *RenameControl) From(path string) bool {
	path = filepath.Clean(path)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}
	if _, ok := rc.pending[path]; ok {
		return false
	}
	cancel := make(chan struct{})
	rc.pending[path] = cancel
	rc.wg.Add(1)
	go rc.wait(path, cancel)
	return true
}

// Decline cancels the pending timer for path. It reports whether one existed.
func (rc *RenameControl) Decline(path string) bool {
	path = filepath.Clean(path)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	cancel, ok := rc.pending[path]
	if !ok {
		return false
	}
	delete(rc.pending, path)
	close(cancel)
	return true
}

// Filter reports whether path has a pending timer. Remove notifications for
// such a path are dropped; the timer decides.
func (rc *RenameControl) Filter(path string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.pending[filepath.Clean(path)]
	return ok
}

// Pending returns the number of outstanding timers.
func (rc *RenameControl) Pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.pending)
}

// Close cancels every pending timer without reporting anything and waits
// for the timer goroutines to exit.
func (rc *RenameControl) Close() {
	rc.mu.Lock()
	rc.closed = true
	for path, cancel := range rc.pending {
		delete(rc.pending, path)
		close(cancel)
	}
	rc.mu.Unlock()
	rc.wg.Wait()
}

func (rc *RenameControl) wait(path string, cancel chan struct{}) {
	defer rc.wg.Done()

	timer := time.NewTimer(rc.timeout)
	defer timer.Stop()

	select {
	case <-cancel:
		return
	case <-timer.C:
	}

	rc.mu.Lock()
	owner, ok := rc.pending[path]
	if !ok || owner != cancel {
		rc.mu.Unlock()
		return
	}
	delete(rc.pending, path)
	rc.mu.Unlock()

	rc.expire(path)
}
