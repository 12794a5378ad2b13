package repos_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"rentdesk/internal/repos"
)

// filedb opens a store on a temp file. :memory: is per-connection and cannot
// show what two writers do to each other.
func filedb(t *testing.T) (*sqlx.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rentdesk.db")
	db := openAt(t, path)
	return db, path
}

func openAt(t *testing.T, path string) *sqlx.DB {
	t.Helper()
	db, err := repos.OpenDB(path, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func addItem(t *testing.T, db *sqlx.DB, id int64, qty int) {
	t.Helper()
	err := repos.NewItemRepo(db).InsertWithID(context.Background(), id, "Item", qty, map[int]int64{7: 700})
	if err != nil {
		t.Fatal(err)
	}
}

var t0 = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
