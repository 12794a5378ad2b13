package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"rentdesk/internal/domain"
)

type NotificationRepo struct{ db *sqlx.DB }

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Claim records that (rental, kind) is being sent on date. It reports false,
// and writes nothing, when the stored date already equals date. Insert and
// overwrite are one statement, so concurrent scanners get exactly one true.
func (r *NotificationRepo) Claim(ctx context.Context, rentalID int64, kind domain.NotificationKind, date string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rental_notifications(rental_id, kind, last_sent_date)
		VALUES (?, ?, ?)
		ON CONFLICT(rental_id, kind) DO UPDATE
		  SET last_sent_date = excluded.last_sent_date
		  WHERE rental_notifications.last_sent_date <> excluded.last_sent_date
	`, rentalID, string(kind), date)
	if err != nil {
		return false, classify("claim notification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns sql.ErrNoRows if the pair was never claimed.
func (r *NotificationRepo) Get(ctx context.Context, rentalID int64, kind domain.NotificationKind) (domain.NotificationRecord, error) {
	var rec domain.NotificationRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT rental_id, kind, last_sent_date FROM rental_notifications
		WHERE rental_id = ? AND kind = ?
	`, rentalID, string(kind))
	return rec, classify("get notification", err)
}
