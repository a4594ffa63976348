package hyper

import (
	"context"
	"iter"
	"time"
)

// Record is one persisted (bucket, key, object) triple. Object is nil for a
// key that holds no objects.
type Record struct {
	Bucket Bucket
	Key    Key
	Object *Object
}

// Filter selects records for deletion. A nil Key matches every key of the
// bucket; an empty Name matches every object of the key.
type Filter struct {
	Bucket Bucket
	Key    *Key
	Name   string
}

// BucketFilter matches everything in b.
func BucketFilter(b Bucket) Filter { return Filter{Bucket: b} }

// KeyFilter matches k and every key nested below it in b.
func KeyFilter(b Bucket, k Key) Filter { return Filter{Bucket: b, Key: &k} }

// ObjectFilter matches a single object.
func ObjectFilter(b Bucket, k Key, name string) Filter {
	return Filter{Bucket: b, Key: &k, Name: name}
}

// Store is the backing persistent mirror of the index. It is not
// authoritative: the filesystem is. Implementations report a logical name
// collision within (bucket, key) as ErrDuplicateName.
type Store interface {
	// FindObjectByPhysicalName returns the object stored under (b, k) with
	// the given physical file name, or nil if there is none.
	FindObjectByPhysicalName(ctx context.Context, b Bucket, k Key, fileName string) (*Object, error)

	// InsertObject persists obj under (b, k), creating bucket and key rows as needed.
	InsertObject(ctx context.Context, b Bucket, k Key, obj *Object) error

	// RenameObject changes the logical name of an object.
	RenameObject(ctx context.Context, b Bucket, k Key, from, to string) error

	// SetFileName changes the physical name of an object.
	SetFileName(ctx context.Context, b Bucket, k Key, name, fileName string) error

	// UpdateContent replaces the size, checksum and timestamps of the object
	// named obj.Name after its file was rewritten.
	UpdateContent(ctx context.Context, b Bucket, k Key, obj *Object) error

	// CreateBucket records b (and its root key) if absent.
	CreateBucket(ctx context.Context, b Bucket) error

	// CreateKey records (b, k) if absent, creating b as needed.
	CreateKey(ctx context.Context, b Bucket, k Key) error

	// RenameBucket renames b in place.
	RenameBucket(ctx context.Context, from, to Bucket) error

	// RenameKey renames a key and every key nested below it.
	RenameKey(ctx context.Context, b Bucket, from, to Key) error

	// Records streams every persisted record ordered by bucket, key and name.
	Records(ctx context.Context) iter.Seq2[Record, error]

	// DeleteWhere deletes the records matched by f and returns how many
	// rows were removed.
	DeleteWhere(ctx context.Context, f Filter) (int64, error)
}

// SyncOperation is one recorded run of a mutating command.
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt Timestamp
}

// History records mutating command runs.
type History interface {
	CreateSyncOperation(ctx context.Context, operation, parameters string) (*SyncOperation, error)
	FinishSyncOperation(ctx context.Context, id int64, status string) error
	ListSyncOperations(ctx context.Context, limit int) ([]*SyncOperation, error)
}

// Database is the full persistence surface used by the application layer.
type Database interface {
	Store
	History

	// Migrate applies pending schema migrations.
	Migrate() error

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	// Close closes the database connection.
	Close() error
}
