package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"hyper-go/internal/config"
	"hyper-go/internal/content"
	"hyper-go/internal/database"
	"hyper-go/internal/fs"
	"hyper-go/internal/hyper"
	"hyper-go/internal/metrics"
	"hyper-go/internal/watcher"
)

// HyperApp is the application layer between the CLI and the Syncer.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the DB lifecycle on Close.
type HyperApp struct {
	cfg     *config.Config
	db      hyper.Database
	ignore  []string
	metrics *metrics.SyncMetrics
	syncer  *hyper.Syncer
	logger  hyper.Logger
	op      *Operation
	logFile *os.File
}

// NewHyperApp creates a fully wired HyperApp from the given config.
// operation identifies the CLI command being run (e.g. "Scan", "Watch").
// The caller must call Close when done.
func NewHyperApp(cfg *config.Config, operation string) (*HyperApp, error) {
	root, err := filepath.Abs(cfg.Watch.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}

	ignore, err := fs.LoadIgnorePatterns(root, cfg.Watch.Ignore)
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}
	fsmgr := fs.NewOSFilesystemManager(ignore)

	hasher, err := content.NewHasher(cfg.Names.Checksum)
	if err != nil {
		return nil, fmt.Errorf("creating hasher: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	m := metrics.New()
	syncer, err := hyper.NewSyncer(hyper.SyncerConfig{
		Root:              root,
		Store:             db,
		FS:                fsmgr,
		Hasher:            hasher,
		Logger:            logger,
		Clock:             hyper.RealClock{},
		IDGen:             hyper.UUIDGenerator{},
		Metrics:           m,
		CollisionAttempts: cfg.Names.CollisionAttempts,
		RandomizePhysical: cfg.Names.RandomizePhysical,
		Notify: func(c hyper.Change) {
			logger.Debug("change applied", "change", c.String())
		},
	})
	if err != nil {
		logFile.Close()
		db.Close()
		return nil, fmt.Errorf("creating syncer: %w", err)
	}

	return &HyperApp{
		cfg:     cfg,
		db:      db,
		ignore:  ignore,
		metrics: m,
		syncer:  syncer,
		logger:  logger,
		op:      NewOperation(operation, root),
		logFile: logFile,
	}, nil
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *HyperApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateSyncOperation(ctx, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// Scan rebuilds the index from the filesystem and then removes stale store
// records.
func (a *HyperApp) Scan(ctx context.Context) (hyper.ReconcileReport, error) {
	if err := a.persistOperation(ctx); err != nil {
		return hyper.ReconcileReport{}, err
	}
	if err := a.syncer.Build(ctx); err != nil {
		return hyper.ReconcileReport{}, a.op.Done(fmt.Errorf("scanning: %w", err))
	}
	report, err := a.syncer.Reconcile(ctx)
	if err != nil {
		return report, a.op.Done(fmt.Errorf("reconciling: %w", err))
	}
	return report, nil
}

// Watch scans the root and then follows changes below it until ctx is done.
// The watcher is started before the scan so nothing that changes during the
// scan is missed.
func (a *HyperApp) Watch(ctx context.Context) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}

	w, err := watcher.New(watcher.Options{
		Root:          a.syncer.Root(),
		Backend:       a.cfg.Watch.Backend,
		PollInterval:  a.cfg.Watch.PollInterval(),
		RenameTimeout: a.cfg.Watch.RenameTimeout(),
		Ignore:        a.ignore,
		Logger:        a.logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		return a.op.Done(fmt.Errorf("starting watcher: %w", err))
	}

	if err := a.syncer.Build(ctx); err != nil {
		return a.op.Done(fmt.Errorf("scanning: %w", err))
	}
	a.logger.Info("watching", "root", a.syncer.Root(), "backend", a.cfg.Watch.Backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return a.syncer.Run(gctx, w.Events()) })
	if interval := a.cfg.Reconcile.Interval(); interval > 0 {
		g.Go(func() error { return a.reconcileEvery(gctx, interval) })
	}
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error { return a.metrics.Serve(gctx, addr) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return a.op.Done(err)
}

// reconcileEvery runs reconciliation on a fixed interval. A failed pass is
// logged by the syncer and retried on the next tick.
func (a *HyperApp) reconcileEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = a.syncer.Reconcile(ctx)
		}
	}
}

// List returns the stored records of bucket, or of one key and the keys
// below it when key is set. An empty bucket lists everything.
func (a *HyperApp) List(ctx context.Context, bucket, key string) ([]hyper.Record, error) {
	var (
		b    hyper.Bucket
		k    hyper.Key
		err  error
		want = bucket != ""
	)
	if want {
		if b, err = hyper.ParseBucket(bucket); err != nil {
			return nil, fmt.Errorf("parsing bucket: %w", err)
		}
	}
	if key != "" {
		if k, err = hyper.ParseKey(key); err != nil {
			return nil, fmt.Errorf("parsing key: %w", err)
		}
	}

	var out []hyper.Record
	for rec, err := range a.db.Records(ctx) {
		if err != nil {
			return nil, fmt.Errorf("listing records: %w", err)
		}
		if want && rec.Bucket != b {
			continue
		}
		if !rec.Key.IsWithin(k) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetHistory returns the most recent recorded operations.
func (a *HyperApp) GetHistory(ctx context.Context, limit int) ([]*hyper.SyncOperation, error) {
	return a.db.ListSyncOperations(ctx, limit)
}

// Backup writes a consistent copy of the database to dest.
func (a *HyperApp) Backup(ctx context.Context, dest string) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return a.op.Done(fmt.Errorf("resolving backup path: %w", err))
	}
	if err := a.db.BackupTo(abs); err != nil {
		return a.op.Done(fmt.Errorf("backing up database: %w", err))
	}
	a.logger.Info("database backed up", "path", abs)
	return nil
}

// Close finalizes the operation and closes all resources.
func (a *HyperApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		if err := a.db.FinishSyncOperation(context.Background(), a.op.ID, a.op.Status); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}

	return errors.Join(errs...)
}
