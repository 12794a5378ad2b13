package repos

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"rentdesk/internal/domain"
)

type RentalRepo struct{ db *sqlx.DB }

func NewRentalRepo(db *sqlx.DB) *RentalRepo { return &RentalRepo{db: db} }

// ---------- Row shape ----------

type RentalRow struct {
	ID               int64   `db:"id"`
	Ref              string  `db:"ref"`
	ItemID           int64   `db:"item_id"`
	ItemTitle        string  `db:"item_title"`
	RequesterID      int64   `db:"requester_id"`
	Status           string  `db:"status"`
	DurationDays     int     `db:"duration_days"`
	FeeTotal         int64   `db:"fee_total"`
	CreatedAt        string  `db:"created_at"`
	StartTS          *string `db:"start_ts"`
	DueTS            *string `db:"due_ts"`
	ReturnedAt       *string `db:"returned_at"`
	DecidedBy        *int64  `db:"decided_by"`
	ClosedBy         *int64  `db:"closed_by"`
	PenaltyPerDay    *int64  `db:"penalty_per_day"`
	PenaltyFixed     *int64  `db:"penalty_fixed"`
	PenaltyWaived    bool    `db:"penalty_waived"`
	PenaltyNote      *string `db:"penalty_note"`
	PenaltyAmount    *int64  `db:"penalty_amount"`
	PenaltyUpdatedAt *string `db:"penalty_updated_at"`
	PenaltyUpdatedBy *int64  `db:"penalty_updated_by"`
}

// ToDomain converts the row. Timestamps that fail to parse are left nil and
// their column names returned so the caller can report the inconsistency.
func (r RentalRow) ToDomain() (domain.Rental, []string) {
	var bad []string
	opt := func(col string, s *string) *time.Time {
		if s == nil || *s == "" {
			return nil
		}
		t, err := parseTS(*s)
		if err != nil {
			bad = append(bad, col)
			return nil
		}
		return &t
	}

	out := domain.Rental{
		ID:            r.ID,
		Ref:           r.Ref,
		ItemID:        r.ItemID,
		ItemTitle:     r.ItemTitle,
		RequesterID:   r.RequesterID,
		Status:        domain.RentalStatus(r.Status),
		DurationDays:  r.DurationDays,
		FeeTotal:      r.FeeTotal,
		StartAt:       opt("start_ts", r.StartTS),
		DueAt:         opt("due_ts", r.DueTS),
		ReturnedAt:    opt("returned_at", r.ReturnedAt),
		DecidedBy:     r.DecidedBy,
		ClosedBy:      r.ClosedBy,
		PenaltyAmount: r.PenaltyAmount,
		Penalty: domain.PenaltyTerms{
			PerDay:    r.PenaltyPerDay,
			Fixed:     r.PenaltyFixed,
			Waived:    r.PenaltyWaived,
			UpdatedAt: opt("penalty_updated_at", r.PenaltyUpdatedAt),
			UpdatedBy: r.PenaltyUpdatedBy,
		},
	}
	if r.PenaltyNote != nil {
		out.Penalty.Note = *r.PenaltyNote
	}
	if t, err := parseTS(r.CreatedAt); err == nil {
		out.CreatedAt = t
	} else {
		bad = append(bad, "created_at")
	}
	return out, bad
}

const rentalCols = `id, ref, item_id, requester_id, status, duration_days, fee_total, created_at,
	start_ts, due_ts, returned_at, decided_by, closed_by,
	penalty_per_day, penalty_fixed, penalty_waived, penalty_note, penalty_amount,
	penalty_updated_at, penalty_updated_by`

// joined select; item_title comes from the catalog row
const rentalSelect = `
	SELECT r.id, r.ref, r.item_id, COALESCE(i.title,'') AS item_title, r.requester_id, r.status,
	       r.duration_days, r.fee_total, r.created_at, r.start_ts, r.due_ts, r.returned_at,
	       r.decided_by, r.closed_by, r.penalty_per_day, r.penalty_fixed, r.penalty_waived,
	       r.penalty_note, r.penalty_amount, r.penalty_updated_at, r.penalty_updated_by
	FROM rentals r
	LEFT JOIN items i ON i.id = r.item_id`

// ---------- Transitions ----------

// InsertRequested creates a requested rental if the item has a free unit at
// this instant. Returns ErrNoStock otherwise (including when the item is gone).
func (r *RentalRepo) InsertRequested(ctx context.Context, ref string, itemID, requesterID int64, days int, fee int64, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rentals(ref, item_id, requester_id, status, duration_days, fee_total, created_at)
		SELECT ?, i.id, ?, 'requested', ?, ?, ?
		FROM items i
		WHERE i.id = ? AND i.quantity > `+activeCount+`
	`, ref, requesterID, days, fee, ts(now), itemID)
	if err != nil {
		return 0, classify("insert rental", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoStock
	}
	return res.LastInsertId()
}

// Approve is the stock-checked requested -> approved compare-and-set. The
// status check and the sibling count are one statement, so two approvers
// (in this process or another one on the same file) cannot both take the
// last unit. The due time is start + duration days, computed by the store.
func (r *RentalRepo) Approve(ctx context.Context, id, authorityID int64, now time.Time) (RentalRow, error) {
	var row RentalRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE rentals
		SET status = 'approved',
		    start_ts = strftime('%Y-%m-%dT%H:%M:%SZ', ?, 'unixepoch'),
		    due_ts = strftime('%Y-%m-%dT%H:%M:%SZ', ?, 'unixepoch', '+' || duration_days || ' days'),
		    decided_by = ?
		WHERE id = ?
		  AND status = 'requested'
		  AND (SELECT COUNT(*) FROM rentals s WHERE s.item_id = rentals.item_id AND s.status = 'approved')
		      < (SELECT i.quantity FROM items i WHERE i.id = rentals.item_id)
		RETURNING `+rentalCols,
		now.Unix(), now.Unix(), authorityID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return RentalRow{}, r.whyNot(ctx, id, domain.StatusRequested, ErrNoStock)
	}
	if err != nil {
		return RentalRow{}, classify("approve rental", err)
	}
	return row, nil
}

// Reject moves requested -> rejected.
func (r *RentalRepo) Reject(ctx context.Context, id, authorityID int64) (RentalRow, error) {
	var row RentalRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE rentals SET status = 'rejected', decided_by = ?
		WHERE id = ? AND status = 'requested'
		RETURNING `+rentalCols,
		authorityID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return RentalRow{}, r.whyNot(ctx, id, domain.StatusRequested, ErrAlreadyDecided)
	}
	if err != nil {
		return RentalRow{}, classify("reject rental", err)
	}
	return row, nil
}

type ReturnArgs struct {
	ID          int64
	AuthorityID int64
	Now         time.Time
	// Optional adjustments applied in the same write as the close.
	FixedOverride *int64
	Waive         *bool
}

// Return moves approved -> returned and stores the realized penalty in the
// same transaction. penalty is called with the closed row (return time set,
// adjustments applied) and its result is never recomputed afterwards.
func (r *RentalRepo) Return(ctx context.Context, a ReturnArgs, penalty func(RentalRow) int64) (RentalRow, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return RentalRow{}, classify("begin return", err)
	}
	defer func() { _ = tx.Rollback() }()

	var waive *int64
	if a.Waive != nil {
		v := int64(0)
		if *a.Waive {
			v = 1
		}
		waive = &v
	}

	// write first: the UPDATE takes the write lock before anything is read
	var row RentalRow
	err = tx.GetContext(ctx, &row, `
		UPDATE rentals
		SET status = 'returned',
		    returned_at = ?,
		    closed_by = ?,
		    penalty_fixed = COALESCE(?, penalty_fixed),
		    penalty_waived = COALESCE(?, penalty_waived)
		WHERE id = ? AND status = 'approved'
		RETURNING `+rentalCols,
		ts(a.Now), a.AuthorityID, a.FixedOverride, waive, a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return RentalRow{}, r.whyNot(ctx, a.ID, domain.StatusApproved, ErrAlreadyDecided)
	}
	if err != nil {
		return RentalRow{}, classify("return rental", err)
	}

	amount := penalty(row)
	if _, err := tx.ExecContext(ctx, `UPDATE rentals SET penalty_amount = ? WHERE id = ?`, amount, a.ID); err != nil {
		return RentalRow{}, classify("store penalty", err)
	}
	if err := tx.Commit(); err != nil {
		return RentalRow{}, classify("commit return", err)
	}
	row.PenaltyAmount = &amount
	return row, nil
}

// PenaltyUpdate carries the editable penalty terms. Nil fields are left as
// they are; the Clear flags null the corresponding override.
type PenaltyUpdate struct {
	PerDay      *int64
	ClearPerDay bool
	Fixed       *int64
	ClearFixed  bool
	Waived      *bool
	Note        *string
	By          int64
	At          time.Time
}

// UpdatePenalty edits the terms of an approved rental. Returned rentals keep
// the penalty realized at close.
func (r *RentalRepo) UpdatePenalty(ctx context.Context, id int64, u PenaltyUpdate) (RentalRow, error) {
	sets := []string{"penalty_updated_at = ?", "penalty_updated_by = ?"}
	args := []any{ts(u.At), u.By}
	switch {
	case u.ClearPerDay:
		sets = append(sets, "penalty_per_day = NULL")
	case u.PerDay != nil:
		sets = append(sets, "penalty_per_day = ?")
		args = append(args, *u.PerDay)
	}
	switch {
	case u.ClearFixed:
		sets = append(sets, "penalty_fixed = NULL")
	case u.Fixed != nil:
		sets = append(sets, "penalty_fixed = ?")
		args = append(args, *u.Fixed)
	}
	if u.Waived != nil {
		v := 0
		if *u.Waived {
			v = 1
		}
		sets = append(sets, "penalty_waived = ?")
		args = append(args, v)
	}
	if u.Note != nil {
		sets = append(sets, "penalty_note = ?")
		args = append(args, *u.Note)
	}
	args = append(args, id)

	var row RentalRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE rentals SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND status = 'approved'
		RETURNING `+rentalCols, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return RentalRow{}, r.whyNot(ctx, id, domain.StatusApproved, ErrAlreadyDecided)
	}
	if err != nil {
		return RentalRow{}, classify("update penalty", err)
	}
	return row, nil
}

// whyNot explains a conditional write that matched no row: the rental is
// missing, has left the from state, or (still in from) lost on the guard.
// The read is after the fact and only picks the message.
func (r *RentalRepo) whyNot(ctx context.Context, id int64, from domain.RentalStatus, guard error) error {
	var status string
	err := r.db.GetContext(ctx, &status, `SELECT status FROM rentals WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return classify("rental status", err)
	case domain.RentalStatus(status) != from:
		return ErrAlreadyDecided
	default:
		return guard
	}
}

// ---------- Reads ----------

func (r *RentalRepo) Get(ctx context.Context, id int64) (RentalRow, error) {
	var row RentalRow
	err := r.db.GetContext(ctx, &row, rentalSelect+` WHERE r.id = ?`, id)
	return row, classify("get rental", err)
}

func (r *RentalRepo) GetByRef(ctx context.Context, ref string) (RentalRow, error) {
	var row RentalRow
	err := r.db.GetContext(ctx, &row, rentalSelect+` WHERE r.ref = ?`, ref)
	return row, classify("get rental", err)
}

// ListByRequester returns a requester's history, newest first.
func (r *RentalRepo) ListByRequester(ctx context.Context, requesterID int64, limit int) ([]RentalRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []RentalRow
	err := r.db.SelectContext(ctx, &out, rentalSelect+`
		WHERE r.requester_id = ?
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?
	`, requesterID, limit)
	return out, classify("list rentals", err)
}

// ListByStatus feeds the console queues (pending requests, active rentals).
func (r *RentalRepo) ListByStatus(ctx context.Context, status domain.RentalStatus, limit int) ([]RentalRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []RentalRow
	err := r.db.SelectContext(ctx, &out, rentalSelect+`
		WHERE r.status = ?
		ORDER BY r.created_at, r.id
		LIMIT ?
	`, string(status), limit)
	return out, classify("list rentals", err)
}

// ListOverdue returns approved rentals past due at now, oldest due first.
func (r *RentalRepo) ListOverdue(ctx context.Context, now time.Time, limit, offset int) ([]RentalRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	var out []RentalRow
	err := r.db.SelectContext(ctx, &out, rentalSelect+`
		WHERE r.status = 'approved' AND r.returned_at IS NULL AND r.due_ts < ?
		ORDER BY r.due_ts, r.id
		LIMIT ? OFFSET ?
	`, ts(now), limit, offset)
	return out, classify("list overdue", err)
}

// unsent narrows a rental select to rows whose reminder of one kind has not
// been claimed on a given date. Takes kind then date as arguments.
const unsentJoin = `
	LEFT JOIN rental_notifications n ON n.rental_id = r.id AND n.kind = ?`

const unsentCond = ` AND (n.last_sent_date IS NULL OR n.last_sent_date <> ?)`

// ListDueBetweenUnsent returns approved rentals with from <= due < to whose
// kind reminder was not claimed on date. Repeated calls make progress as
// claims are recorded.
func (r *RentalRepo) ListDueBetweenUnsent(ctx context.Context, from, to time.Time, kind domain.NotificationKind, date string, limit int) ([]RentalRow, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []RentalRow
	err := r.db.SelectContext(ctx, &out, rentalSelect+unsentJoin+`
		WHERE r.status = 'approved' AND r.returned_at IS NULL
		  AND r.due_ts >= ? AND r.due_ts < ?`+unsentCond+`
		ORDER BY r.due_ts, r.id
		LIMIT ?
	`, string(kind), ts(from), ts(to), date, limit)
	return out, classify("list due", err)
}

// ListOverdueUnsent is ListOverdue without the rentals already reminded of
// kind on date.
func (r *RentalRepo) ListOverdueUnsent(ctx context.Context, now time.Time, kind domain.NotificationKind, date string, limit int) ([]RentalRow, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []RentalRow
	err := r.db.SelectContext(ctx, &out, rentalSelect+unsentJoin+`
		WHERE r.status = 'approved' AND r.returned_at IS NULL AND r.due_ts < ?`+unsentCond+`
		ORDER BY r.due_ts, r.id
		LIMIT ?
	`, string(kind), ts(now), date, limit)
	return out, classify("list overdue", err)
}

func (r *RentalRepo) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM rentals
		WHERE status = 'approved' AND returned_at IS NULL AND due_ts < ?
	`, ts(now))
	return n, classify("count overdue", err)
}

// CountApproved is the number of units of an item currently held.
func (r *RentalRepo) CountApproved(ctx context.Context, itemID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM rentals WHERE item_id = ? AND status = 'approved'
	`, itemID)
	return n, classify("count approved", err)
}

// ---------- Renter statistics ----------

// TopRenters counts granted rentals (approved or returned) per requester.
func (r *RentalRepo) TopRenters(ctx context.Context, limit int) ([]domain.RenterCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []domain.RenterCount
	err := r.db.SelectContext(ctx, &out, `
		SELECT requester_id, COUNT(*) AS n, '' AS titles
		FROM rentals
		WHERE status IN ('approved', 'returned')
		GROUP BY requester_id
		ORDER BY n DESC, requester_id
		LIMIT ?
	`, limit)
	return out, classify("top renters", err)
}

// NotReturned lists requesters holding overdue items at now, with the titles.
func (r *RentalRepo) NotReturned(ctx context.Context, now time.Time) ([]domain.RenterCount, error) {
	var out []domain.RenterCount
	err := r.db.SelectContext(ctx, &out, `
		SELECT r.requester_id, COUNT(*) AS n, GROUP_CONCAT(COALESCE(i.title, ''), '; ') AS titles
		FROM rentals r
		LEFT JOIN items i ON i.id = r.item_id
		WHERE r.status = 'approved' AND r.returned_at IS NULL AND r.due_ts < ?
		GROUP BY r.requester_id
		ORDER BY n DESC, r.requester_id
	`, ts(now))
	return out, classify("not returned", err)
}

// LateRenters counts late incidents per requester: rentals returned after
// their due time plus rentals overdue at now. Only requesters with at least
// minLate incidents are listed.
func (r *RentalRepo) LateRenters(ctx context.Context, now time.Time, minLate int) ([]domain.RenterCount, error) {
	var out []domain.RenterCount
	err := r.db.SelectContext(ctx, &out, `
		SELECT requester_id, COUNT(*) AS n, '' AS titles FROM (
			SELECT requester_id FROM rentals
			WHERE status = 'returned' AND returned_at IS NOT NULL AND due_ts IS NOT NULL
			  AND returned_at > due_ts
			UNION ALL
			SELECT requester_id FROM rentals
			WHERE status = 'approved' AND returned_at IS NULL AND due_ts < ?
		)
		GROUP BY requester_id
		HAVING COUNT(*) >= ?
		ORDER BY n DESC, requester_id
	`, ts(now), minLate)
	return out, classify("late renters", err)
}
