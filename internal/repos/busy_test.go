package repos_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rentdesk/internal/domain"
	"rentdesk/internal/repos"
)

// Another handle holding the write lock longer than the busy timeout must
// come back as ErrBusy, never as a business outcome.
func TestRentalRepo_ContentionIsBusy(t *testing.T) {
	db, path := filedb(t)
	addItem(t, db, 1, 2)
	r1 := repos.NewRentalRepo(db)
	ctx := context.Background()
	pending := request(t, r1, "a", 1)
	active := request(t, r1, "b", 1)
	if _, err := r1.Approve(ctx, active, 1, t0); err != nil {
		t.Fatal(err)
	}

	other, err := repos.OpenDB(path, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { other.Close() })
	other.SetMaxOpenConns(1)
	r2 := repos.NewRentalRepo(other)

	tx, err := db.Beginx()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`UPDATE items SET quantity = quantity WHERE id = 1`); err != nil {
		t.Fatal(err)
	}

	if _, err := r2.Approve(ctx, pending, 1, t0); !errors.Is(err, repos.ErrBusy) {
		t.Fatalf("approve under lock: %v", err)
	}
	_, err = r2.Return(ctx, repos.ReturnArgs{ID: active, AuthorityID: 1, Now: t0}, func(repos.RentalRow) int64 { return 0 })
	if !errors.Is(err, repos.ErrBusy) {
		t.Fatalf("return under lock: %v", err)
	}
	if _, err := r2.InsertRequested(ctx, "c", 1, 1, 7, 0, t0); !errors.Is(err, repos.ErrBusy) {
		t.Fatalf("insert under lock: %v", err)
	}
	if _, err := repos.NewNotificationRepo(other).Claim(ctx, active, domain.KindOverdueDaily, "2026-01-10"); !errors.Is(err, repos.ErrBusy) {
		t.Fatalf("claim under lock: %v", err)
	}

	// reads are not blocked in WAL mode
	if _, err := r2.Get(ctx, pending); err != nil {
		t.Fatalf("read under lock: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if _, err := r2.Approve(ctx, pending, 1, t0); err != nil {
		t.Fatalf("approve after release: %v", err)
	}
}
