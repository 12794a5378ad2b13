package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"rentdesk/internal/repos"
	"rentdesk/internal/services"
	"rentdesk/internal/testutil"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	db      *sqlx.DB
	clock   *testutil.FakeClock
	items   *repos.ItemRepo
	rentals *services.RentalService
	ledger  *services.LedgerService
	stock   *services.StockService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repos.OpenDB(filepath.Join(t.TempDir(), "svc.db"), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := repos.Seed(db, repos.SeedOptions{PenaltyPerDay: 2000}); err != nil {
		t.Fatal(err)
	}
	clock := testutil.NewFakeClock(start)
	items := repos.NewItemRepo(db)
	return &env{
		db:      db,
		clock:   clock,
		items:   items,
		rentals: services.NewRentalService(items, repos.NewRentalRepo(db), repos.NewSettingsRepo(db), clock),
		ledger:  services.NewLedgerService(repos.NewNotificationRepo(db), clock, time.UTC),
		stock:   services.NewStockService(repos.NewInventoryRepo(db)),
	}
}

func (e *env) item(t *testing.T, id int64, qty int) {
	t.Helper()
	if err := e.items.InsertWithID(context.Background(), id, "Item", qty, map[int]int64{1: 100, 7: 7000}); err != nil {
		t.Fatal(err)
	}
}

// active creates and approves a rental at the current fake time.
func (e *env) active(t *testing.T, itemID int64, days int) int64 {
	t.Helper()
	ctx := context.Background()
	cr, err := e.rentals.Create(ctx, itemID, 1, days)
	if err != nil || cr.Outcome != services.OutcomeCreated {
		t.Fatalf("create: %+v %v", cr, err)
	}
	ar, err := e.rentals.ApproveIfAvailable(ctx, cr.RentalID, 9)
	if err != nil || ar.Outcome != services.OutcomeApproved {
		t.Fatalf("approve: %+v %v", ar, err)
	}
	return cr.RentalID
}
