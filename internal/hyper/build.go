package hyper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"hyper-go/internal/content"
)

// Build rebuilds the index from a full scan of the root. Top-level
// directories become buckets; every directory below a bucket becomes a key,
// discovered breadth-first so the order is reproducible. Unreadable
// directories are logged and their subtree skipped.
func (s *Syncer) Build(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.fsmgr.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("reading root %s: %w", s.root, err)
	}

	s.index.Reset()
	for _, e := range entries {
		if s.fsmgr.IsIgnored(e.Name()) {
			continue
		}
		if !e.IsDir() {
			s.logger.Debug("ignoring file outside any bucket", "name", e.Name())
			continue
		}

		name := s.admitDir(filepath.Join(s.root, e.Name()))
		b := Bucket("/" + name + "/")
		s.ensureBucket(ctx, b)
		if err := s.scanTree(ctx, b, RootKey); err != nil {
			return fmt.Errorf("scanning bucket %s: %w", b, err)
		}
	}

	buckets, keys, objects := s.index.Len()
	s.metrics.IndexSize(buckets, keys, objects)
	s.logger.Info("scan complete", "root", s.root, "buckets", buckets, "keys", keys, "objects", objects)
	return nil
}

// scanTree indexes the directory of start and everything below it using a
// FIFO queue.
func (s *Syncer) scanTree(ctx context.Context, b Bucket, start Key) error {
	queue := []Key{start}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		k := queue[0]
		queue = queue[1:]

		dir := k.Dir(s.root, b)
		entries, err := s.fsmgr.ReadDir(dir)
		if err != nil {
			s.logger.Warn("skipping unreadable directory", "path", dir, "error", err)
			continue
		}

		var files []string
		for _, e := range entries {
			name := e.Name()
			if s.fsmgr.IsIgnored(name) {
				continue
			}
			switch {
			case e.IsDir():
				child := k.Join(s.admitDir(filepath.Join(dir, name)))
				s.ensureKey(ctx, b, child)
				queue = append(queue, child)
			case e.Type().IsRegular():
				files = append(files, name)
			}
		}

		if err := s.syncObjects(ctx, b, k, files); err != nil {
			return err
		}
	}
	return nil
}

// unknownFile is a file whose content has to be checksummed: it has no
// record yet, or its stored record is stale.
type unknownFile struct {
	path   string
	obj    Object
	stored bool
}

// syncObjects indexes the named files of (b, k). Objects the store already
// knows by physical name are reused unless the file's size or modification
// time moved on. The rest are checksummed in parallel and admitted.
func (s *Syncer) syncObjects(ctx context.Context, b Bucket, k Key, names []string) error {
	dir := k.Dir(s.root, b)

	var unknown []*unknownFile
	for _, name := range names {
		if s.fsmgr.IsIgnored(name) {
			continue
		}
		if _, ok := s.index.ObjectByFileName(b, k, name); ok {
			continue
		}

		path := filepath.Join(dir, name)
		info, err := s.fsmgr.Stat(path)
		if err != nil {
			s.logger.Debug("file vanished before indexing", "path", path, "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		meta := s.statObject(info)

		stored, err := s.store.FindObjectByPhysicalName(ctx, b, k, name)
		if err != nil {
			s.logger.Error("looking up object", "path", path, "error", err)
		}
		if stored != nil {
			stale := stored.Size != meta.Size || stored.Modified.Changed(meta.Modified)
			stored.Touch(meta)
			if stale {
				s.logger.Debug("stored object is stale", "path", path, "size", stored.Size, "new_size", meta.Size)
				stored.Checksum = ""
				unknown = append(unknown, &unknownFile{path: path, obj: *stored, stored: true})
				continue
			}
			if err := s.commit(NewObjectChange(b, k, *stored)); err != nil {
				s.logger.Error("indexing stored object", "path", path, "error", err)
			}
			continue
		}
		unknown = append(unknown, &unknownFile{path: path, obj: meta})
	}
	if len(unknown) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, f := range unknown {
		g.Go(func() error {
			sum, n, err := s.checksum(gctx, f.path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("checksum failed", "path", f.path, "error", err)
				return nil
			}
			f.obj.Checksum, f.obj.Size = sum, n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range unknown {
		switch {
		case f.obj.Checksum == "":
		case f.stored:
			s.refreshFile(ctx, b, k, f)
		default:
			s.admitFile(ctx, b, k, f)
		}
	}
	return nil
}

// refreshFile indexes a stored object under its stored names with the
// content it has now.
func (s *Syncer) refreshFile(ctx context.Context, b Bucket, k Key, f *unknownFile) {
	if err := s.store.UpdateContent(ctx, b, k, &f.obj); err != nil {
		s.logger.Error("store write failed", "op", "update_content", "path", f.path, "error", err)
	}
	if err := s.commit(NewObjectChange(b, k, f.obj)); err != nil {
		s.logger.Error("indexing stored object", "path", f.path, "error", err)
	}
}

// admitFile persists a newly discovered file and indexes it. The logical
// name is the sanitised file name. The file is then moved to its physical
// name; if that fails it keeps the name it had.
func (s *Syncer) admitFile(ctx context.Context, b Bucket, k Key, f *unknownFile) {
	original := filepath.Base(f.path)
	obj := f.obj
	obj.Name, _ = content.NormalizeFile(original, true)

	physical := obj.Name
	if s.randomize {
		physical = content.PhysicalName(s.idgen.New(), original)
	}
	obj.FileName = physical
	if !obj.Created.Valid {
		obj.Created = At(s.clock.Now())
	}

	err := s.resolver.Insert(ctx, b, k, &obj)
	if errors.Is(err, ErrRetriesExhausted) {
		return
	}
	stored := err == nil
	if err != nil {
		s.logger.Error("store write failed", "op", "insert_object", "path", f.path, "error", err)
	}

	// Without random physical names the file follows its resolved name.
	fileName := physical
	if !s.randomize {
		fileName = obj.Name
	}
	if fileName != original {
		to := filepath.Join(filepath.Dir(f.path), fileName)
		if err := s.rename(f.path, to); err != nil {
			s.logger.Warn("keeping original file name", "path", f.path, "error", err)
			fileName = original
		}
	}
	if fileName != physical {
		obj.FileName = fileName
		if stored {
			if err := s.store.SetFileName(ctx, b, k, obj.Name, fileName); err != nil {
				s.logger.Error("store write failed", "op", "set_file_name", "path", f.path, "error", err)
			}
		}
	}

	if err := s.commit(NewObjectChange(b, k, obj)); err != nil {
		s.logger.Error("indexing object", "path", f.path, "error", err)
	}
}

func (s *Syncer) checksum(ctx context.Context, path string) (string, int64, error) {
	return s.hasher.File(ctx, func() (io.ReadCloser, error) {
		return s.fsmgr.Open(path)
	})
}

// statObject fills the metadata of an object from a stat result. Created is
// only set when the platform reports a birth time.
func (s *Syncer) statObject(info fs.FileInfo) Object {
	obj := Object{
		FileName: info.Name(),
		Size:     info.Size(),
		Modified: At(info.ModTime()),
	}
	if sd, err := s.fsmgr.ExtractStatData(info); err == nil && sd != nil {
		if !sd.Atime.IsZero() {
			obj.Accessed = At(sd.Atime)
		}
		obj.Created = sd.BirthTime
	}
	return obj
}
