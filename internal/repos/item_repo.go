package repos

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"rentdesk/internal/domain"
)

type ItemRepo struct{ db *sqlx.DB }

func NewItemRepo(db *sqlx.DB) *ItemRepo { return &ItemRepo{db: db} }

type itemRow struct {
	ID        int64  `db:"id"`
	Title     string `db:"title"`
	Quantity  int    `db:"quantity"`
	FeesJSON  string `db:"fees_json"`
	CreatedAt string `db:"created_at"`
}

func (r itemRow) toDomain() (domain.Item, error) {
	it := domain.Item{ID: r.ID, Title: r.Title, Quantity: r.Quantity, CreatedAt: r.CreatedAt}
	if r.FeesJSON != "" {
		if err := json.Unmarshal([]byte(r.FeesJSON), &it.Fees); err != nil {
			return it, fmt.Errorf("item %d fee schedule: %w", r.ID, err)
		}
	}
	return it, nil
}

// Get returns sql.ErrNoRows when the item does not exist.
func (r *ItemRepo) Get(ctx context.Context, id int64) (domain.Item, error) {
	var row itemRow
	if err := r.db.GetContext(ctx, &row, `
		SELECT id, title, quantity, fees_json, created_at
		FROM items WHERE id = ?
	`, id); err != nil {
		return domain.Item{}, classify("get item", err)
	}
	return row.toDomain()
}

// Insert adds a catalog row. Catalog management lives outside the rental
// core; this exists for seeding and tests.
func (r *ItemRepo) Insert(ctx context.Context, title string, qty int, fees map[int]int64) (int64, error) {
	if fees == nil {
		fees = map[int]int64{}
	}
	b, err := json.Marshal(fees)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO items(title, quantity, fees_json) VALUES (?, ?, ?)
	`, title, qty, string(b))
	if err != nil {
		return 0, classify("insert item", err)
	}
	return res.LastInsertId()
}

// InsertWithID is Insert with a caller-chosen id (fixtures, imports).
func (r *ItemRepo) InsertWithID(ctx context.Context, id int64, title string, qty int, fees map[int]int64) error {
	if fees == nil {
		fees = map[int]int64{}
	}
	b, err := json.Marshal(fees)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO items(id, title, quantity, fees_json) VALUES (?, ?, ?, ?)
	`, id, title, qty, string(b))
	return classify("insert item", err)
}
