package hyper_test

import (
	"context"
	"errors"
	"iter"
	"os"
	"testing"

	"hyper-go/internal/hyper"
	"hyper-go/internal/testutil"
)

// failingStore fails while streaming records.
type failingStore struct {
	hyper.Store
	deletes int
}

func (s *failingStore) Records(context.Context) iter.Seq2[hyper.Record, error] {
	return func(yield func(hyper.Record, error) bool) {
		if !yield(hyper.Record{Bucket: "/gone/"}, nil) {
			return
		}
		yield(hyper.Record{}, errors.New("connection lost"))
	}
}

func (s *failingStore) DeleteWhere(context.Context, hyper.Filter) (int64, error) {
	s.deletes++
	return 1, nil
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t, nil, nil)

	insert := func(b hyper.Bucket, k hyper.Key, name, sum string) {
		t.Helper()
		o := &hyper.Object{Name: name, FileName: name, Checksum: sum}
		if err := db.InsertObject(ctx, b, k, o); err != nil {
			t.Fatal(err)
		}
	}
	insert("/news/", "", "live.mp4", "live")
	insert("/news/", "", "renamed.mp4", "moved")
	insert("/news/", "", "stale.mp4", "old")
	insert("/news/", "archive", "a.mp4", "a")
	insert("/news/", "archive/2019", "b.mp4", "b")
	insert("/gone/", "x", "c.mp4", "c")

	snap := hyper.Snapshot{
		"/news/": {
			hyper.RootKey: {
				{Name: "live.mp4", Checksum: "live"},
				{Name: "other-name.mp4", Checksum: "moved"},
			},
		},
	}

	report, err := hyper.Reconcile(ctx, snap, db)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	want := hyper.ReconcileReport{Buckets: 1, Keys: 2, Objects: 1}
	if report != want {
		t.Errorf("Reconcile() = %+v, want %+v", report, want)
	}

	stored := testutil.StoredObjects(t, db)
	if len(stored) != 2 {
		t.Errorf("stored after reconcile = %v", stored)
	}
	if _, ok := stored["/news/||renamed.mp4"]; !ok {
		t.Error("object with a matching checksum was deleted")
	}

	again, err := hyper.Reconcile(ctx, snap, db)
	if err != nil || again.Total() != 0 {
		t.Errorf("second Reconcile() = %+v, %v; want nothing to do", again, err)
	}
}

func TestReconcile_AbortsOnStoreError(t *testing.T) {
	store := &failingStore{}
	_, err := hyper.Reconcile(context.Background(), hyper.Snapshot{}, store)
	if err == nil {
		t.Fatal("Reconcile() error = nil")
	}
	if store.deletes != 0 {
		t.Errorf("deletes = %d, want none after a failed listing", store.deletes)
	}
}

func TestSyncer_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"news/clip.mp4": "video"})
	f.build(t)

	if err := f.db.CreateKey(ctx, "/news/", "removed-offline"); err != nil {
		t.Fatal(err)
	}
	report, err := f.syncer.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Keys != 1 || report.Total() != 1 {
		t.Errorf("Reconcile() = %+v", report)
	}
	if len(f.metrics.reconcile) != 1 {
		t.Errorf("Reconciled() calls = %d, want 1", len(f.metrics.reconcile))
	}
	if _, err := os.Stat(f.path("news/clip.mp4")); err != nil {
		t.Errorf("filesystem touched: %v", err)
	}
}
