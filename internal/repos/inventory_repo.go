package repos

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type InventoryRepo struct{ db *sqlx.DB }

func NewInventoryRepo(db *sqlx.DB) *InventoryRepo { return &InventoryRepo{db: db} }

// StockRow is total vs. currently granted units for one item.
type StockRow struct {
	ItemID int64  `db:"item_id"`
	Title  string `db:"title"`
	Total  int    `db:"total"`
	Rented int    `db:"rented"`
}

// activeCount is the sub-select every stock decision shares. Only approved
// rentals hold a unit; requested ones do not.
const activeCount = `(SELECT COUNT(*) FROM rentals r WHERE r.item_id = i.id AND r.status = 'approved')`

// Stock returns sql.ErrNoRows if the item is missing. The figure is advisory:
// nothing stops it from changing before a later write.
func (r *InventoryRepo) Stock(ctx context.Context, itemID int64) (StockRow, error) {
	var row StockRow
	err := r.db.GetContext(ctx, &row, `
		SELECT i.id AS item_id, i.title, i.quantity AS total, `+activeCount+` AS rented
		FROM items i
		WHERE i.id = ?
	`, itemID)
	if err != nil {
		return StockRow{}, classify("stock", err)
	}
	return row, nil
}

// ListAll returns stock rows for every item (console overview).
func (r *InventoryRepo) ListAll(ctx context.Context) ([]StockRow, error) {
	var rows []StockRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT i.id AS item_id, i.title, i.quantity AS total, `+activeCount+` AS rented
		FROM items i
		ORDER BY i.title
	`)
	return rows, classify("list stock", err)
}
