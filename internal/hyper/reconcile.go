package hyper

import (
	"context"
	"fmt"
)

// ReconcileReport counts the store rows deleted by one reconciliation pass.
type ReconcileReport struct {
	Buckets int64
	Keys    int64
	Objects int64
}

// Total returns the number of rows deleted.
func (r ReconcileReport) Total() int64 { return r.Buckets + r.Keys + r.Objects }

type keyRef struct {
	bucket Bucket
	key    Key
}

type objectRef struct {
	keyRef
	name string
}

// Reconcile compares snap, the filesystem-derived index, with every record
// in store and deletes store-side:
//   - buckets missing from snap,
//   - keys missing from snap within a bucket both sides know,
//   - objects whose checksum matches no object of the same (bucket, key) in snap.
//
// Stale records are collected while streaming and deleted afterwards. Any
// store error aborts the pass.
func Reconcile(ctx context.Context, snap Snapshot, store Store) (ReconcileReport, error) {
	var report ReconcileReport

	checksums := make(map[keyRef]map[string]struct{})
	for b, keys := range snap {
		for k, objs := range keys {
			set := make(map[string]struct{}, len(objs))
			for _, o := range objs {
				set[o.Checksum] = struct{}{}
			}
			checksums[keyRef{b, k}] = set
		}
	}

	var (
		staleBuckets []Bucket
		staleKeys    []keyRef
		staleObjects []objectRef
		seenBuckets  = make(map[Bucket]bool)
		seenKeys     = make(map[keyRef]bool)
	)
	for rec, err := range store.Records(ctx) {
		if err != nil {
			return report, fmt.Errorf("listing store records: %w", err)
		}

		if _, ok := snap[rec.Bucket]; !ok {
			if !seenBuckets[rec.Bucket] {
				seenBuckets[rec.Bucket] = true
				staleBuckets = append(staleBuckets, rec.Bucket)
			}
			continue
		}

		ref := keyRef{rec.Bucket, rec.Key}
		sums, ok := checksums[ref]
		if !ok {
			if !seenKeys[ref] {
				seenKeys[ref] = true
				staleKeys = append(staleKeys, ref)
			}
			continue
		}

		if rec.Object == nil {
			continue
		}
		if _, ok := sums[rec.Object.Checksum]; !ok {
			staleObjects = append(staleObjects, objectRef{ref, rec.Object.Name})
		}
	}

	for _, b := range staleBuckets {
		n, err := store.DeleteWhere(ctx, BucketFilter(b))
		if err != nil {
			return report, fmt.Errorf("deleting bucket %s: %w", b, err)
		}
		report.Buckets += n
	}
	for _, ref := range staleKeys {
		n, err := store.DeleteWhere(ctx, KeyFilter(ref.bucket, ref.key))
		if err != nil {
			return report, fmt.Errorf("deleting key %s %q: %w", ref.bucket, ref.key, err)
		}
		report.Keys += n
	}
	for _, ref := range staleObjects {
		n, err := store.DeleteWhere(ctx, ObjectFilter(ref.bucket, ref.key, ref.name))
		if err != nil {
			return report, fmt.Errorf("deleting object %s %q %q: %w", ref.bucket, ref.key, ref.name, err)
		}
		report.Objects += n
	}
	return report, nil
}
