package repos

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
)

const settingPenaltyPerDay = "penalty_per_day"

type SettingsRepo struct{ db *sqlx.DB }

func NewSettingsRepo(db *sqlx.DB) *SettingsRepo { return &SettingsRepo{db: db} }

// PenaltyPerDay returns sql.ErrNoRows when the store was never seeded.
func (r *SettingsRepo) PenaltyPerDay(ctx context.Context) (int64, error) {
	var v string
	if err := r.db.GetContext(ctx, &v, `SELECT value FROM settings WHERE key = ?`, settingPenaltyPerDay); err != nil {
		return 0, classify("get penalty rate", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("settings %s=%q: %w", settingPenaltyPerDay, v, err)
	}
	return n, nil
}

func (r *SettingsRepo) SetPenaltyPerDay(ctx context.Context, v int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, settingPenaltyPerDay, strconv.FormatInt(v, 10))
	return classify("set penalty rate", err)
}
