package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/mattn/go-sqlite3"

	"hyper-go/internal/database/migrations"
	"hyper-go/internal/hyper"
)

// SQLiteDatabase implements hyper.Database on SQLite.
//
// The pool is limited to one connection: in-memory databases exist per
// connection and PRAGMAs are per connection too. A consequence is that no
// other method may be called while a Records iteration is in progress.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock hyper.Clock
	idgen hyper.IDGenerator
}

// NewSQLiteDatabase opens the database at path, which may be ":memory:".
// A nil clock or idgen selects the real implementation.
func NewSQLiteDatabase(path string, clock hyper.Clock, idgen hyper.IDGenerator) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteDatabaseFromDB(db, clock, idgen)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps a connection opened with OpenConnection.
func NewSQLiteDatabaseFromDB(db *sql.DB, clock hyper.Clock, idgen hyper.IDGenerator) *SQLiteDatabase {
	if clock == nil {
		clock = hyper.RealClock{}
	}
	if idgen == nil {
		idgen = hyper.UUIDGenerator{}
	}
	return &SQLiteDatabase{db: db, clock: clock, idgen: idgen}
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// SQLite leaves foreign keys off by default; cascades depend on them.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (s *SQLiteDatabase) Path() string { return s.path }

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Status(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Bucket and key operations

const keyIDQuery = `SELECT k.id FROM keys k JOIN buckets b ON b.id = k.bucket_id WHERE b.name = ? AND k.path = ?`

func (s *SQLiteDatabase) CreateBucket(ctx context.Context, b hyper.Bucket) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.ensureKey(ctx, tx, b, hyper.RootKey)
		return err
	})
}

func (s *SQLiteDatabase) CreateKey(ctx context.Context, b hyper.Bucket, k hyper.Key) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.ensureKey(ctx, tx, b, k)
		return err
	})
}

func (s *SQLiteDatabase) RenameBucket(ctx context.Context, from, to hyper.Bucket) error {
	res, err := s.db.ExecContext(ctx, `UPDATE buckets SET name = ? WHERE name = ?`, string(to), string(from))
	if err != nil {
		return wrapWrite(fmt.Sprintf("renaming bucket %s", from), err)
	}
	return requireRow(res, fmt.Sprintf("renaming bucket %s", from))
}

// RenameKey moves the key and every key below it. Prefixes are compared with
// substr rather than LIKE, which is case-insensitive in SQLite.
func (s *SQLiteDatabase) RenameKey(ctx context.Context, b hyper.Bucket, from, to hyper.Key) error {
	prefix := string(from) + "/"
	res, err := s.db.ExecContext(ctx, `
		UPDATE keys SET path = ? || substr(path, length(?) + 1)
		WHERE bucket_id = (SELECT id FROM buckets WHERE name = ?)
		  AND (path = ? OR substr(path, 1, length(?)) = ?)`,
		string(to), string(from), string(b), string(from), prefix, prefix)
	if err != nil {
		return wrapWrite(fmt.Sprintf("renaming key %s %q", b, from), err)
	}
	return requireRow(res, fmt.Sprintf("renaming key %s %q", b, from))
}

// ensureKey creates the bucket, its root key and every key up to k as needed
// and returns the id of k.
func (s *SQLiteDatabase) ensureKey(ctx context.Context, tx *sql.Tx, b hyper.Bucket, k hyper.Key) (string, error) {
	now := s.clock.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO buckets (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`,
		s.idgen.New(), string(b), now); err != nil {
		return "", fmt.Errorf("creating bucket %s: %w", b, err)
	}

	var bucketID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM buckets WHERE name = ?`, string(b)).Scan(&bucketID); err != nil {
		return "", fmt.Errorf("finding bucket %s: %w", b, err)
	}

	segs := k.Segments()
	paths := []hyper.Key{hyper.RootKey}
	for i := range segs {
		paths = append(paths, hyper.Key(strings.Join(segs[:i+1], "/")))
	}

	var keyID string
	for _, p := range paths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO keys (id, bucket_id, path, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (bucket_id, path) DO NOTHING`,
			s.idgen.New(), bucketID, string(p), now); err != nil {
			return "", fmt.Errorf("creating key %s %q: %w", b, p, err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM keys WHERE bucket_id = ? AND path = ?`, bucketID, string(p)).Scan(&keyID); err != nil {
			return "", fmt.Errorf("finding key %s %q: %w", b, p, err)
		}
	}
	return keyID, nil
}

// Object operations

const objectColumns = `o.name, o.file_name, o.size, o.checksum, o.seen_by, o.taken_by, o.created_at, o.modified_at, o.accessed_at`

func (s *SQLiteDatabase) FindObjectByPhysicalName(ctx context.Context, b hyper.Bucket, k hyper.Key, fileName string) (*hyper.Object, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+objectColumns+`
		FROM objects o
		WHERE o.key_id = (`+keyIDQuery+`) AND o.file_name = ?
		LIMIT 1`,
		string(b), string(k), fileName)

	var r objectRow
	if err := row.Scan(r.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding object by physical name: %w", err)
	}
	obj, err := r.object()
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// InsertObject stores obj under (b, k), creating the bucket and key rows if
// needed. A taken name yields hyper.ErrDuplicateName.
func (s *SQLiteDatabase) InsertObject(ctx context.Context, b hyper.Bucket, k hyper.Key, obj *hyper.Object) error {
	seenBy, err := json.Marshal(nonNil(obj.SeenBy))
	if err != nil {
		return fmt.Errorf("encoding seen_by: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		keyID, err := s.ensureKey(ctx, tx, b, k)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO objects (id, key_id, name, file_name, size, checksum, seen_by, taken_by, created_at, modified_at, accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.idgen.New(), keyID, obj.Name, obj.FileName, obj.Size, obj.Checksum, string(seenBy), obj.TakenBy,
			nullTime(obj.Created), nullTime(obj.Modified), nullTime(obj.Accessed))
		if err != nil {
			return wrapWrite(fmt.Sprintf("inserting object %q", obj.Name), err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) RenameObject(ctx context.Context, b hyper.Bucket, k hyper.Key, from, to string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE objects SET name = ? WHERE key_id = (`+keyIDQuery+`) AND name = ?`,
		to, string(b), string(k), from)
	if err != nil {
		return wrapWrite(fmt.Sprintf("renaming object %q", from), err)
	}
	return requireRow(res, fmt.Sprintf("renaming object %q", from))
}

func (s *SQLiteDatabase) SetFileName(ctx context.Context, b hyper.Bucket, k hyper.Key, name, fileName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE objects SET file_name = ? WHERE key_id = (`+keyIDQuery+`) AND name = ?`,
		fileName, string(b), string(k), name)
	if err != nil {
		return fmt.Errorf("setting file name of %q: %w", name, err)
	}
	return requireRow(res, fmt.Sprintf("setting file name of %q", name))
}

func (s *SQLiteDatabase) UpdateContent(ctx context.Context, b hyper.Bucket, k hyper.Key, obj *hyper.Object) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE objects SET size = ?, checksum = ?, created_at = ?, modified_at = ?, accessed_at = ?
		WHERE key_id = (`+keyIDQuery+`) AND name = ?`,
		obj.Size, obj.Checksum, nullTime(obj.Created), nullTime(obj.Modified), nullTime(obj.Accessed),
		string(b), string(k), obj.Name)
	if err != nil {
		return fmt.Errorf("updating content of %q: %w", obj.Name, err)
	}
	return requireRow(res, fmt.Sprintf("updating content of %q", obj.Name))
}

// DeleteWhere deletes what f selects and returns the number of rows of the
// selected kind that were removed; dependent rows cascade. A root key filter
// removes every key of the bucket.
func (s *SQLiteDatabase) DeleteWhere(ctx context.Context, f hyper.Filter) (int64, error) {
	var (
		res sql.Result
		err error
	)
	switch {
	case f.Key == nil:
		res, err = s.db.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, string(f.Bucket))
	case f.Name == "" && f.Key.IsRoot():
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM keys WHERE bucket_id = (SELECT id FROM buckets WHERE name = ?)`, string(f.Bucket))
	case f.Name == "":
		prefix := string(*f.Key) + "/"
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM keys
			WHERE bucket_id = (SELECT id FROM buckets WHERE name = ?)
			  AND (path = ? OR substr(path, 1, length(?)) = ?)`,
			string(f.Bucket), string(*f.Key), prefix, prefix)
	default:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM objects WHERE key_id = (`+keyIDQuery+`) AND name = ?`,
			string(f.Bucket), string(*f.Key), f.Name)
	}
	if err != nil {
		return 0, fmt.Errorf("deleting records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting records: %w", err)
	}
	return n, nil
}

// Records streams every (bucket, key, object) row. Keys without objects are
// yielded once with a nil Object.
func (s *SQLiteDatabase) Records(ctx context.Context) iter.Seq2[hyper.Record, error] {
	return func(yield func(hyper.Record, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT b.name, k.path, o.id, `+objectColumns+`
			FROM buckets b
			JOIN keys k ON k.bucket_id = b.id
			LEFT JOIN objects o ON o.key_id = k.id
			ORDER BY b.name, k.path, o.name`)
		if err != nil {
			yield(hyper.Record{}, fmt.Errorf("listing records: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				bucket, key string
				objectID    sql.NullString
				r           objectRow
			)
			dest := append([]any{&bucket, &key, &objectID}, r.dest()...)
			if err := rows.Scan(dest...); err != nil {
				yield(hyper.Record{}, fmt.Errorf("scanning record: %w", err))
				return
			}

			rec := hyper.Record{Bucket: hyper.Bucket(bucket), Key: hyper.Key(key)}
			if objectID.Valid {
				obj, err := r.object()
				if err != nil {
					yield(hyper.Record{}, err)
					return
				}
				rec.Object = obj
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(hyper.Record{}, fmt.Errorf("listing records: %w", err))
		}
	}
}

// Sync operation history

func (s *SQLiteDatabase) CreateSyncOperation(ctx context.Context, operation, parameters string) (*hyper.SyncOperation, error) {
	op := &hyper.SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  s.clock.Now(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)`,
		op.StartedAt, op.Operation, op.Parameters, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishSyncOperation(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_operations SET finished_at = ?, status = ? WHERE id = ?`,
		s.clock.Now(), status, id)
	if err != nil {
		return fmt.Errorf("finishing sync operation: %w", err)
	}
	return requireRow(res, fmt.Sprintf("finishing sync operation %d", id))
}

// ListSyncOperations returns up to limit operations, newest first.
func (s *SQLiteDatabase) ListSyncOperations(ctx context.Context, limit int) ([]*hyper.SyncOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, operation, parameters, status
		FROM sync_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var ops []*hyper.SyncOperation
	for rows.Next() {
		var (
			op       hyper.SyncOperation
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		op.FinishedAt = timestamp(finished)
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteDatabase) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements hyper.Database
var _ hyper.Database = (*SQLiteDatabase)(nil)

// objectRow scans the objectColumns of a possibly NULL object.
type objectRow struct {
	name, fileName, checksum, seenBy, takenBy sql.NullString
	size                                      sql.NullInt64
	created, modified, accessed               sql.NullTime
}

func (r *objectRow) dest() []any {
	return []any{&r.name, &r.fileName, &r.size, &r.checksum, &r.seenBy, &r.takenBy, &r.created, &r.modified, &r.accessed}
}

func (r *objectRow) object() (*hyper.Object, error) {
	obj := &hyper.Object{
		Name:     r.name.String,
		FileName: r.fileName.String,
		Size:     r.size.Int64,
		Checksum: r.checksum.String,
		TakenBy:  r.takenBy.String,
		Created:  timestamp(r.created),
		Modified: timestamp(r.modified),
		Accessed: timestamp(r.accessed),
	}
	if r.seenBy.Valid && r.seenBy.String != "" {
		if err := json.Unmarshal([]byte(r.seenBy.String), &obj.SeenBy); err != nil {
			return nil, fmt.Errorf("decoding seen_by of %q: %w", obj.Name, err)
		}
		if len(obj.SeenBy) == 0 {
			obj.SeenBy = nil
		}
	}
	return obj, nil
}

// wrapWrite maps a unique constraint violation to hyper.ErrDuplicateName.
func wrapWrite(what string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%s: %w", what, hyper.ErrDuplicateName)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, hyper.ErrNotFound)
	}
	return nil
}

func nullTime(t hyper.Timestamp) sql.NullTime {
	return sql.NullTime{Time: t.Time, Valid: t.Valid}
}

func timestamp(t sql.NullTime) hyper.Timestamp {
	return hyper.Timestamp{Time: t.Time, Valid: t.Valid}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
