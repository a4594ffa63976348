package hyper

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"hyper-go/internal/content"
)

// DefaultCollisionAttempts is the number of store attempts per operation.
const DefaultCollisionAttempts = 5

var collisionMarker = regexp.MustCompile(`@[0-9a-f]{8}$`)

// WithCollisionMarker returns name with its collision marker set to token.
// An existing marker on the stem is replaced; the extension is kept.
func WithCollisionMarker(name, token string) string {
	stem, ext := content.SplitExt(name)
	stem = collisionMarker.ReplaceAllString(stem, "")
	return stem + "@" + token + ext
}

// Resolver retries store writes that fail because a logical name is taken
// within its (bucket, key). Each retry marks the name with a fresh random
// token. It never overwrites or removes an existing object.
type Resolver struct {
	store    Store
	index    *BucketMap
	idgen    IDGenerator
	attempts int
	logger   Logger
	metrics  Metrics
}

// NewResolver creates a Resolver. index may be nil, in which case only the
// store decides whether a name is taken.
func NewResolver(store Store, index *BucketMap, idgen IDGenerator, attempts int, logger Logger, metrics Metrics) *Resolver {
	if attempts <= 0 {
		attempts = DefaultCollisionAttempts
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Resolver{
		store:    store,
		index:    index,
		idgen:    idgen,
		attempts: attempts,
		logger:   logger,
		metrics:  metrics,
	}
}

// Insert persists obj under (b, k). On success obj.Name holds the name that
// was stored. When every attempt collides obj is left unchanged and the
// error wraps ErrRetriesExhausted.
func (r *Resolver) Insert(ctx context.Context, b Bucket, k Key, obj *Object) error {
	original := obj.Name
	for attempt := 1; attempt <= r.attempts; attempt++ {
		candidate := r.candidate(original, attempt)
		if r.taken(b, k, candidate, "") {
			continue
		}

		obj.Name = candidate
		err := r.store.InsertObject(ctx, b, k, obj)
		if err == nil {
			if candidate != original {
				r.logger.Info("name collision resolved", "bucket", b, "key", k, "name", original, "stored_as", candidate)
			}
			return nil
		}
		obj.Name = original
		if !errors.Is(err, ErrDuplicateName) {
			return fmt.Errorf("inserting object %q: %w", candidate, err)
		}
	}

	r.exhausted("insert", b, k, original)
	return fmt.Errorf("inserting object %q in %s %q: %w", original, b, k, ErrRetriesExhausted)
}

// Rename changes the logical name of an object from from to to, marking to
// as needed. It returns the name that was stored.
func (r *Resolver) Rename(ctx context.Context, b Bucket, k Key, from, to string) (string, error) {
	if from == to {
		return to, nil
	}
	for attempt := 1; attempt <= r.attempts; attempt++ {
		candidate := r.candidate(to, attempt)
		if r.taken(b, k, candidate, from) {
			continue
		}

		err := r.store.RenameObject(ctx, b, k, from, candidate)
		if err == nil {
			if candidate != to {
				r.logger.Info("name collision resolved", "bucket", b, "key", k, "name", to, "stored_as", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, ErrDuplicateName) {
			return "", fmt.Errorf("renaming object %q to %q: %w", from, candidate, err)
		}
	}

	r.exhausted("rename", b, k, to)
	return "", fmt.Errorf("renaming object %q to %q in %s %q: %w", from, to, b, k, ErrRetriesExhausted)
}

func (r *Resolver) candidate(name string, attempt int) string {
	if attempt == 1 {
		return name
	}
	r.metrics.CollisionRetry()
	return WithCollisionMarker(name, r.token())
}

// taken reports whether name is already used in the index by an object
// other than self.
func (r *Resolver) taken(b Bucket, k Key, name, self string) bool {
	if r.index == nil || name == self {
		return false
	}
	_, ok := r.index.Object(b, k, name)
	return ok
}

func (r *Resolver) token() string {
	t := strings.ToLower(strings.ReplaceAll(r.idgen.New(), "-", ""))
	if len(t) > 8 {
		t = t[:8]
	}
	return t
}

func (r *Resolver) exhausted(op string, b Bucket, k Key, name string) {
	r.metrics.CollisionExhausted()
	r.logger.Error("name collision retries exhausted",
		"op", op,
		"bucket", b,
		"key", k,
		"name", name,
		"attempts", r.attempts,
	)
}
