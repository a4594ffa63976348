package hyper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"hyper-go/internal/content"
)

// SyncerConfig holds the collaborators and settings of a Syncer. Root, Store
// and FS are required; everything else has a default.
type SyncerConfig struct {
	Root    string
	Store   Store
	FS      FilesystemManager
	Hasher  *content.Hasher
	Logger  Logger
	Clock   Clock
	IDGen   IDGenerator
	Metrics Metrics

	// CollisionAttempts is the resolver's attempt ceiling.
	CollisionAttempts int
	// RandomizePhysical gives every new file a random on-disk name.
	RandomizePhysical bool
	// Workers bounds parallel checksum computation during scans.
	Workers int
	// ExpectTTL bounds how long the echo of a self-made change is awaited.
	ExpectTTL time.Duration

	// Notify, if set, receives every Change after it is applied to the index.
	Notify func(Change)
}

// Syncer keeps a BucketMap and a Store consistent with the directory tree
// under one root. It turns watcher events and client intents into Changes,
// writes them to the store and then applies them to the index.
type Syncer struct {
	mu sync.Mutex // serialises Build, Handle, Apply and Reconcile

	root      string
	index     *BucketMap
	store     Store
	fsmgr     FilesystemManager
	hasher    *content.Hasher
	resolver  *Resolver
	expect    *expectations
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	metrics   Metrics
	randomize bool
	workers   int
	notify    func(Change)
}

// NewSyncer validates cfg and returns a Syncer with an empty index.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if cfg.Root == "" {
		return nil, errors.New("syncer: root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("syncer: resolving root: %w", err)
	}
	if cfg.Store == nil {
		return nil, errors.New("syncer: store is required")
	}
	if cfg.FS == nil {
		return nil, errors.New("syncer: filesystem manager is required")
	}
	if cfg.CollisionAttempts < 0 {
		return nil, fmt.Errorf("syncer: collision attempts must not be negative, got %d", cfg.CollisionAttempts)
	}

	if cfg.Hasher == nil {
		cfg.Hasher, _ = content.NewHasher(content.SHA256)
	}
	if cfg.Logger == nil {
		cfg.Logger = NewNopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.IDGen == nil {
		cfg.IDGen = UUIDGenerator{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.ExpectTTL <= 0 {
		cfg.ExpectTTL = DefaultExpectTTL
	}

	index := NewBucketMap(root)
	return &Syncer{
		root:      root,
		index:     index,
		store:     cfg.Store,
		fsmgr:     cfg.FS,
		hasher:    cfg.Hasher,
		resolver:  NewResolver(cfg.Store, index, cfg.IDGen, cfg.CollisionAttempts, cfg.Logger, cfg.Metrics),
		expect:    newExpectations(cfg.Clock, cfg.ExpectTTL),
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		idgen:     cfg.IDGen,
		metrics:   cfg.Metrics,
		randomize: cfg.RandomizePhysical,
		workers:   cfg.Workers,
		notify:    cfg.Notify,
	}, nil
}

// Root returns the absolute watched root.
func (s *Syncer) Root() string { return s.root }

// Index returns the in-memory index. Callers must treat it as read-only.
func (s *Syncer) Index() *BucketMap { return s.index }

// Run handles events until the channel is closed or ctx is done. Failures
// of single events are logged and do not stop the loop. Echoes of changes
// made before Run, e.g. by Build, are awaited from the moment Run starts.
func (s *Syncer) Run(ctx context.Context, events <-chan Event) error {
	s.expect.resume()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Handle(ctx, ev); err != nil {
				s.logger.Error("handling event", "event", ev.String(), "error", err)
			}
		}
	}
}

// Handle classifies one event by its depth below root and applies the
// resulting changes. A directory at depth 1 is a bucket, a deeper directory
// is a key and a file below a bucket is an object. Files directly under
// root are ignored.
func (s *Syncer) Handle(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expect.match(ev) {
		s.logger.Debug("skipping echo of own change", "event", ev.String())
		return nil
	}

	segs, err := s.segments(ev.Path())
	if err != nil {
		s.logger.Debug("ignoring event outside root", "event", ev.String())
		return nil
	}

	switch ev.Op {
	case EventNew:
		return s.handleNew(ctx, segs, ev.IsDir)
	case EventName:
		return s.handleName(ctx, segs, ev.NewName, ev.IsDir)
	case EventDelete:
		return s.handleDelete(ctx, segs)
	default:
		return fmt.Errorf("unknown event op %s", ev.Op)
	}
}

func (s *Syncer) handleNew(ctx context.Context, segs []string, isDir bool) error {
	path := s.abs(segs)
	info, err := s.fsmgr.Stat(path)
	if err != nil {
		s.logger.Debug("entry vanished before indexing", "path", path, "error", err)
		return nil
	}

	if isDir || info.IsDir() {
		if !info.IsDir() {
			return nil
		}
		segs = slices.Clone(segs)
		segs[len(segs)-1] = s.admitDir(path)
		b := bucketOf(segs)
		s.ensureBucket(ctx, b)
		k := keyOf(segs[1:])
		s.ensureKey(ctx, b, k)
		return s.scanTree(ctx, b, k)
	}

	if len(segs) < 2 {
		s.logger.Debug("ignoring file outside any bucket", "path", path)
		return nil
	}
	name := segs[len(segs)-1]
	if s.fsmgr.IsIgnored(name) {
		return nil
	}
	b, k := bucketOf(segs), keyOf(segs[1:len(segs)-1])
	s.ensureKey(ctx, b, k)
	return s.syncObjects(ctx, b, k, []string{name})
}

func (s *Syncer) handleName(ctx context.Context, from []string, newName string, isDir bool) error {
	to := append(slices.Clone(from[:len(from)-1]), newName)

	// A rename out of or into an ignored name finishes or abandons an upload.
	oldIgnored := s.fsmgr.IsIgnored(from[len(from)-1])
	newIgnored := s.fsmgr.IsIgnored(newName)
	switch {
	case oldIgnored && newIgnored:
		return nil
	case oldIgnored:
		return s.handleNew(ctx, to, isDir)
	case newIgnored:
		return s.handleDelete(ctx, from)
	}

	if isDir {
		return s.renameDir(ctx, from, to)
	}
	if len(from) < 2 {
		return nil
	}
	return s.renameFile(ctx, from, to)
}

func (s *Syncer) renameDir(ctx context.Context, from, to []string) error {
	fromPath, toPath := s.abs(from), s.abs(to)
	if _, r := content.NormalizePath(to[len(to)-1], false); r == content.NeedRestore {
		s.restore(toPath, fromPath)
		return nil
	}

	b := bucketOf(from)
	if len(from) == 1 {
		if !s.index.HasBucket(b) {
			s.alarm(EventName, fromPath)
			return nil
		}
		return s.record(ctx, NameBucketChange(b, bucketOf(to)))
	}

	fk, tk := keyOf(from[1:]), keyOf(to[1:])
	if !s.index.HasKey(b, fk) {
		s.alarm(EventName, fromPath)
		return nil
	}
	return s.record(ctx, NameKeyChange(b, fk, tk))
}

// renameFile handles a physical rename of an object. The new file name
// becomes the object's logical name as well.
func (s *Syncer) renameFile(ctx context.Context, from, to []string) error {
	b, k := bucketOf(from), keyOf(from[1:len(from)-1])
	oldFile, newFile := from[len(from)-1], to[len(to)-1]

	obj, ok := s.index.ObjectByFileName(b, k, oldFile)
	if !ok {
		// Files rejected earlier, e.g. after exhausted collision retries,
		// get another chance when they are renamed.
		s.logger.Debug("rename of unindexed file", "path", s.abs(from))
		return s.handleNew(ctx, to, false)
	}

	if _, r := content.NormalizeFile(newFile, false); r == content.NeedRestore {
		s.restore(s.abs(to), s.abs(from))
		return nil
	}

	// A rename over an existing file replaces that file's content.
	if victim, ok := s.index.ObjectByFileName(b, k, newFile); ok && victim.Name != obj.Name {
		if err := s.record(ctx, DeleteObjectChange(b, k, victim.Name)); err != nil {
			return err
		}
	}

	if info, err := s.fsmgr.Stat(s.abs(to)); err == nil && !sameContent(obj, info) {
		s.logger.Warn("renamed file does not match its object, indexing it anew", "from", s.abs(from), "to", s.abs(to))
		if err := s.record(ctx, DeleteObjectChange(b, k, obj.Name)); err != nil {
			return err
		}
		return s.handleNew(ctx, to, false)
	}

	name, err := s.resolver.Rename(ctx, b, k, obj.Name, newFile)
	switch {
	case errors.Is(err, ErrRetriesExhausted):
		name = obj.Name
	case err != nil:
		s.logger.Error("store write failed", "op", "rename_object", "path", s.abs(to), "error", err)
		name = newFile
	}
	if err := s.store.SetFileName(ctx, b, k, name, newFile); err != nil {
		s.logger.Error("store write failed", "op", "set_file_name", "path", s.abs(to), "error", err)
	}
	return s.commit(NameObjectChange(b, k, obj.Name, name, newFile))
}

// sameContent reports whether info can be the file obj was indexed from. A
// rename keeps the size and does not move the modification time forward.
func sameContent(obj Object, info fs.FileInfo) bool {
	return info.Size() == obj.Size && !obj.Modified.Changed(At(info.ModTime()))
}

func (s *Syncer) handleDelete(ctx context.Context, segs []string) error {
	path := s.abs(segs)
	b := bucketOf(segs)
	name := segs[len(segs)-1]

	if len(segs) == 1 {
		if s.index.HasBucket(b) {
			return s.record(ctx, DeleteBucketChange(b))
		}
		// Could have been a plain file under root, which is never indexed.
		s.logger.Debug("delete of unknown top-level entry", "path", path)
		return nil
	}

	if k := keyOf(segs[1:]); s.index.HasKey(b, k) {
		return s.record(ctx, DeleteKeyChange(b, k))
	}
	k := keyOf(segs[1 : len(segs)-1])
	if obj, ok := s.index.ObjectByFileName(b, k, name); ok {
		return s.record(ctx, DeleteObjectChange(b, k, obj.Name))
	}
	if s.fsmgr.IsIgnored(name) {
		return nil
	}
	s.alarm(EventDelete, path)
	return nil
}

// Apply carries out a client intent: it performs the filesystem operation,
// persists the change and applies it to the index. It returns the change as
// applied, which may differ from c when a name collision was resolved.
//
// NewObject expects the file to be in place already under Object.FileName.
// NameObject changes only the logical name.
func (s *Syncer) Apply(ctx context.Context, c Change) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c.Kind {
	case ChangeNewBucket:
		if err := validBucket(c.Bucket); err != nil {
			return c, err
		}
		if s.index.HasBucket(c.Bucket) {
			return c, nil
		}
		if err := s.mkdir(c.Bucket.Dir(s.root)); err != nil {
			return c, err
		}
		return c, s.record(ctx, c)

	case ChangeNewKey:
		if c.Key.IsRoot() || !content.ValidPath(c.Key.Base()) {
			return c, fmt.Errorf("new key %q: %w", c.Key, ErrInvalidPath)
		}
		if !s.index.HasKey(c.Bucket, c.Key.Parent()) {
			return c, fmt.Errorf("new key %q: parent in %s %w", c.Key, c.Bucket, ErrNotFound)
		}
		if s.index.HasKey(c.Bucket, c.Key) {
			return c, nil
		}
		if err := s.mkdir(c.Key.Dir(s.root, c.Bucket)); err != nil {
			return c, err
		}
		return c, s.record(ctx, c)

	case ChangeNewObject:
		return s.applyNewObject(ctx, c)

	case ChangeNameBucket:
		if !s.index.HasBucket(c.Bucket) {
			return c, fmt.Errorf("rename bucket %s: %w", c.Bucket, ErrNotFound)
		}
		if err := validBucket(c.ToBucket); err != nil {
			return c, err
		}
		if err := s.rename(c.Bucket.Dir(s.root), c.ToBucket.Dir(s.root)); err != nil {
			return c, err
		}
		return c, s.record(ctx, c)

	case ChangeNameKey:
		if !s.index.HasKey(c.Bucket, c.Key) || c.Key.IsRoot() {
			return c, fmt.Errorf("rename key %s %q: %w", c.Bucket, c.Key, ErrNotFound)
		}
		if c.ToKey.IsRoot() || c.ToKey.Parent() != c.Key.Parent() || !content.ValidPath(c.ToKey.Base()) {
			return c, fmt.Errorf("rename key %q to %q: %w", c.Key, c.ToKey, ErrInvalidPath)
		}
		if err := s.rename(c.Key.Dir(s.root, c.Bucket), c.ToKey.Dir(s.root, c.Bucket)); err != nil {
			return c, err
		}
		return c, s.record(ctx, c)

	case ChangeNameObject:
		if _, ok := s.index.Object(c.Bucket, c.Key, c.Name); !ok {
			return c, fmt.Errorf("rename object %s %q %q: %w", c.Bucket, c.Key, c.Name, ErrNotFound)
		}
		if !content.ValidFile(c.ToName) {
			return c, fmt.Errorf("rename object to %q: %w", c.ToName, ErrInvalidPath)
		}
		name, err := s.resolver.Rename(ctx, c.Bucket, c.Key, c.Name, c.ToName)
		if err != nil {
			return c, err
		}
		c = NameObjectChange(c.Bucket, c.Key, c.Name, name, "")
		return c, s.commit(c)

	case ChangeDeleteBucket:
		if !s.index.HasBucket(c.Bucket) {
			return c, fmt.Errorf("delete bucket %s: %w", c.Bucket, ErrNotFound)
		}
		if err := s.removeAll(c.Bucket.Dir(s.root)); err != nil {
			return c, err
		}
		return c, s.record(ctx, c)

	case ChangeDeleteKey:
		if c.Key.IsRoot() || !s.index.HasKey(c.Bucket, c.Key) {
			return c, fmt.Errorf("delete key %s %q: %w", c.Bucket, c.Key, ErrNotFound)
		}
		if err := s.removeAll(c.Key.Dir(s.root, c.Bucket)); err != nil {
			return c, err
		}
		return c, s.record(ctx, c)

	case ChangeDeleteObject:
		obj, ok := s.index.Object(c.Bucket, c.Key, c.Name)
		if !ok {
			return c, fmt.Errorf("delete object %s %q %q: %w", c.Bucket, c.Key, c.Name, ErrNotFound)
		}
		if err := s.removeAll(filepath.Join(c.Key.Dir(s.root, c.Bucket), obj.FileName)); err != nil {
			return c, err
		}
		return c, s.record(ctx, c)

	default:
		return c, fmt.Errorf("unknown change kind %d", c.Kind)
	}
}

func (s *Syncer) applyNewObject(ctx context.Context, c Change) (Change, error) {
	b, k, obj := c.Bucket, c.Key, c.Object
	if !s.index.HasKey(b, k) {
		return c, fmt.Errorf("new object in %s %q: key %w", b, k, ErrNotFound)
	}
	if existing, ok := s.index.ObjectByFileName(b, k, obj.FileName); ok {
		return NewObjectChange(b, k, existing), nil
	}
	if obj.Name == "" {
		obj.Name = obj.FileName
	}
	if !content.ValidFile(obj.Name) || !content.ValidFile(obj.FileName) {
		return c, fmt.Errorf("new object %q: %w", obj.Name, ErrInvalidPath)
	}

	path := filepath.Join(k.Dir(s.root, b), obj.FileName)
	info, err := s.fsmgr.Stat(path)
	if err != nil {
		return c, fmt.Errorf("new object %q: %w", obj.Name, err)
	}
	meta := s.statObject(info)
	if obj.Checksum == "" {
		sum, n, err := s.checksum(ctx, path)
		if err != nil {
			return c, fmt.Errorf("new object %q: %w", obj.Name, err)
		}
		obj.Checksum, obj.Size = sum, n
	}
	if obj.Size == 0 {
		obj.Size = meta.Size
	}
	obj.Touch(meta)
	if !obj.Created.Valid {
		obj.Created = At(s.clock.Now())
	}

	if err := s.resolver.Insert(ctx, b, k, &obj); err != nil {
		return c, err
	}
	c = NewObjectChange(b, k, obj)
	return c, s.commit(c)
}

// Reconcile deletes store records that no longer have a counterpart in the
// index. The filesystem is never touched.
func (s *Syncer) Reconcile(ctx context.Context) (ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := Reconcile(ctx, s.index.Snapshot(), s.store)
	if err != nil {
		s.logger.Error("reconciliation aborted", "error", err)
		return report, err
	}
	s.metrics.Reconciled(report)
	if report.Total() > 0 {
		s.logger.Info("reconciliation removed stale records",
			"buckets", report.Buckets,
			"keys", report.Keys,
			"objects", report.Objects,
		)
	}
	return report, nil
}

// record persists c and applies it to the index. Store failures are logged;
// the index follows the filesystem regardless.
func (s *Syncer) record(ctx context.Context, c Change) error {
	if err := s.persist(ctx, c); err != nil {
		s.logger.Error("store write failed", "change", c.String(), "error", err)
	}
	return s.commit(c)
}

func (s *Syncer) persist(ctx context.Context, c Change) error {
	switch c.Kind {
	case ChangeNewBucket:
		return s.store.CreateBucket(ctx, c.Bucket)
	case ChangeNewKey:
		return s.store.CreateKey(ctx, c.Bucket, c.Key)
	case ChangeNewObject:
		obj := c.Object
		return s.store.InsertObject(ctx, c.Bucket, c.Key, &obj)
	case ChangeNameBucket:
		return s.store.RenameBucket(ctx, c.Bucket, c.ToBucket)
	case ChangeNameKey:
		return s.store.RenameKey(ctx, c.Bucket, c.Key, c.ToKey)
	case ChangeNameObject:
		if err := s.store.RenameObject(ctx, c.Bucket, c.Key, c.Name, c.ToName); err != nil {
			return err
		}
		if c.ToFileName != "" {
			return s.store.SetFileName(ctx, c.Bucket, c.Key, c.ToName, c.ToFileName)
		}
		return nil
	case ChangeDeleteBucket:
		_, err := s.store.DeleteWhere(ctx, BucketFilter(c.Bucket))
		return err
	case ChangeDeleteKey:
		_, err := s.store.DeleteWhere(ctx, KeyFilter(c.Bucket, c.Key))
		return err
	case ChangeDeleteObject:
		_, err := s.store.DeleteWhere(ctx, ObjectFilter(c.Bucket, c.Key, c.Name))
		return err
	default:
		return fmt.Errorf("unknown change kind %d", c.Kind)
	}
}

// commit applies c to the index and publishes it.
func (s *Syncer) commit(c Change) error {
	if err := s.index.Change(c); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.ConsistencyAlarm(c.Kind.String())
		}
		return fmt.Errorf("applying %s: %w", c, err)
	}
	s.metrics.ChangeApplied(c.Kind)
	s.metrics.IndexSize(s.index.Len())
	s.logger.Debug("change applied", "change", c.String())
	if s.notify != nil {
		s.notify(c)
	}
	return nil
}

// alarm reports an event that refers to an entry the index does not hold.
// The event is dropped; applying it would corrupt the index.
func (s *Syncer) alarm(op EventOp, path string) {
	s.metrics.ConsistencyAlarm(op.String())
	s.logger.Error("event for unknown index entry dropped", "op", op.String(), "path", path)
}

func (s *Syncer) ensureBucket(ctx context.Context, b Bucket) {
	if s.index.HasBucket(b) {
		return
	}
	if err := s.record(ctx, NewBucketChange(b)); err != nil {
		s.logger.Error("adding bucket", "bucket", b, "error", err)
	}
}

// ensureKey indexes k and any missing ancestors.
func (s *Syncer) ensureKey(ctx context.Context, b Bucket, k Key) {
	s.ensureBucket(ctx, b)
	if k.IsRoot() || s.index.HasKey(b, k) {
		return
	}
	s.ensureKey(ctx, b, k.Parent())
	if err := s.record(ctx, NewKeyChange(b, k)); err != nil {
		s.logger.Error("adding key", "bucket", b, "key", k, "error", err)
	}
}

// admitDir sanitises the name of a newly seen directory in place and returns
// the name it ends up with.
func (s *Syncer) admitDir(path string) string {
	name := filepath.Base(path)
	clean, renamed := content.NormalizePath(name, true)
	if renamed != content.Yes {
		return name
	}
	to := filepath.Join(filepath.Dir(path), clean)
	if err := s.rename(path, to); err != nil {
		s.logger.Warn("keeping invalid directory name", "path", path, "error", err)
		return name
	}
	s.logger.Info("directory name sanitised", "from", path, "to", to)
	return clean
}

// restore rolls back a rename whose target name is invalid.
func (s *Syncer) restore(current, original string) {
	if err := s.rename(current, original); err != nil {
		s.logger.Error("restoring renamed entry", "from", current, "to", original, "error", err)
		return
	}
	s.logger.Warn("rename to invalid name reverted", "from", current, "to", original)
}

func (s *Syncer) rename(from, to string) error {
	s.expect.rename(from, to)
	if err := s.fsmgr.Rename(from, to); err != nil {
		return fmt.Errorf("renaming %s: %w", from, err)
	}
	return nil
}

func (s *Syncer) mkdir(path string) error {
	s.expect.create(path)
	if err := s.fsmgr.Mkdir(path); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

func (s *Syncer) removeAll(path string) error {
	s.expect.remove(path)
	if err := s.fsmgr.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// segments splits path below root into its components.
func (s *Syncer) segments(path string) ([]string, error) {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, ErrInvalidPath
	}
	return strings.Split(filepath.ToSlash(rel), "/"), nil
}

func (s *Syncer) abs(segs []string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.Join(segs, "/")))
}

func bucketOf(segs []string) Bucket { return Bucket("/" + segs[0] + "/") }

func keyOf(segs []string) Key { return Key(strings.Join(segs, "/")) }

func validBucket(b Bucket) error {
	if len(b.Segments()) != 1 || !content.ValidPath(b.Name()) {
		return fmt.Errorf("bucket %q: %w", b, ErrInvalidPath)
	}
	return nil
}
