// Package watcher turns filesystem notifications below a root into the
// hyper.Event stream consumed by the syncer.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	hyperfs "hyper-go/internal/fs"
	"hyper-go/internal/hyper"
)

// Backend names accepted by New.
const (
	BackendNotify = "notify"
	BackendPoll   = "poll"
)

// DefaultPollInterval is the poll backend's snapshot interval.
const DefaultPollInterval = time.Second

type rawOp uint8

const (
	rawCreate rawOp = iota + 1
	rawRenameFrom
	rawRenameBoth
	rawRemove
)

// rawEvent is the backend-neutral notification both backends produce.
// to is only set for rawRenameBoth. isDir is unknown for rawRemove.
type rawEvent struct {
	op    rawOp
	path  string
	to    string
	isDir bool
}

// Metrics receives watcher measurements.
type Metrics interface {
	PendingRenames(n int)
}

type nopMetrics struct{}

func (nopMetrics) PendingRenames(int) {}

// Options configures a Watcher. Root is required.
type Options struct {
	Root          string
	Backend       string // "notify" or "poll"
	PollInterval  time.Duration
	RenameTimeout time.Duration
	Ignore        []string
	Logger        hyper.Logger
	Metrics       Metrics
}

// backend produces raw events until ctx is done.
type backend interface {
	run(ctx context.Context) error
	close() error
}

// Watcher observes one directory tree.
type Watcher struct {
	root    string
	backend backend
	raw     *pipe
	renames *RenameControl
	ignore  *hyperfs.IgnoreMatcher
	events  chan hyper.Event
	logger  hyper.Logger
	metrics Metrics
}

// New validates opts and starts observing the tree. Changes made after New
// returns are reported once Run is called.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" {
		return nil, errors.New("watcher: root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolving root: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = hyper.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	w := &Watcher{
		root:    root,
		raw:     newPipe(),
		ignore:  hyperfs.NewIgnoreMatcher(opts.Ignore),
		events:  make(chan hyper.Event, 64),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	w.renames = NewRenameControl(opts.RenameTimeout, w.expire)

	switch opts.Backend {
	case BackendNotify, "":
		w.backend, err = newNotifyBackend(root, w.raw.push, w.ignored, w.logger)
	case BackendPoll:
		interval := opts.PollInterval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		w.backend, err = newPollBackend(root, interval, w.raw.push, w.ignored, w.logger)
	default:
		return nil, fmt.Errorf("watcher: unknown backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("watcher: starting %s backend: %w", opts.Backend, err)
	}
	return w, nil
}

// Events returns the translated event stream. It is closed when Run returns.
func (w *Watcher) Events() <-chan hyper.Event { return w.events }

// Pending returns the number of renames still waiting for a destination.
func (w *Watcher) Pending() int { return w.renames.Pending() }

// Run drives the backend and the translator until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer w.raw.close()
		return w.backend.run(gctx)
	})
	g.Go(func() error {
		for {
			raw, ok := w.raw.pop(gctx)
			if !ok {
				return nil
			}
			for _, ev := range w.translate(raw) {
				select {
				case w.events <- ev:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	err := g.Wait()
	w.renames.Close()
	if cerr := w.backend.close(); err == nil {
		err = cerr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// translate maps one raw event onto zero or more hyper events.
func (w *Watcher) translate(raw rawEvent) []hyper.Event {
	switch raw.op {
	case rawCreate:
		if w.ignored(raw.path) {
			return nil
		}
		return []hyper.Event{hyper.NewEvent(raw.path, raw.isDir)}

	case rawRenameFrom:
		w.renames.From(raw.path)
		w.metrics.PendingRenames(w.renames.Pending())
		return nil

	case rawRenameBoth:
		if w.renames.Decline(raw.path) {
			w.metrics.PendingRenames(w.renames.Pending())
		}
		fromIgnored, toIgnored := w.ignored(raw.path), w.ignored(raw.to)
		switch {
		case fromIgnored && toIgnored:
			return nil
		case fromIgnored:
			return []hyper.Event{hyper.NewEvent(raw.to, raw.isDir)}
		case toIgnored:
			return []hyper.Event{hyper.DeleteEvent(raw.path)}
		}
		if filepath.Dir(raw.path) != filepath.Dir(raw.to) {
			return []hyper.Event{hyper.DeleteEvent(raw.path), hyper.NewEvent(raw.to, raw.isDir)}
		}
		return []hyper.Event{hyper.NameEvent(raw.path, raw.to, raw.isDir)}

	case rawRemove:
		if w.renames.Filter(raw.path) || w.ignored(raw.path) {
			return nil
		}
		return []hyper.Event{hyper.DeleteEvent(raw.path)}

	default:
		w.logger.Warn("unknown raw event", "op", raw.op, "path", raw.path)
		return nil
	}
}

// expire runs when a rename timer fires: the path left the tree.
func (w *Watcher) expire(path string) {
	w.logger.Debug("rename timed out, reporting removal", "path", path)
	w.raw.push(rawEvent{op: rawRemove, path: path})
	w.metrics.PendingRenames(w.renames.Pending())
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return w.ignore.Match(filepath.Base(path))
	}
	return w.ignore.Match(rel)
}
