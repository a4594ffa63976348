package testutil

import (
	"testing"

	"hyper-go/internal/database"
	"hyper-go/internal/hyper"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations
// applied. The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, clock hyper.Clock, idgen hyper.IDGenerator) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", clock, idgen)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// StoredObjects returns the stored objects keyed by "bucket|key|name".
func StoredObjects(t *testing.T, store hyper.Store) map[string]hyper.Object {
	t.Helper()
	out := make(map[string]hyper.Object)
	for rec, err := range store.Records(t.Context()) {
		if err != nil {
			t.Fatalf("listing records: %v", err)
		}
		if rec.Object != nil {
			out[string(rec.Bucket)+"|"+string(rec.Key)+"|"+rec.Object.Name] = *rec.Object
		}
	}
	return out
}
