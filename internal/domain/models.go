package domain

import "time"

type RentalStatus string

const (
	StatusRequested RentalStatus = "requested"
	StatusApproved  RentalStatus = "approved"
	StatusRejected  RentalStatus = "rejected"
	StatusReturned  RentalStatus = "returned"
)

// Terminal reports whether no further transition is allowed out of s.
func (s RentalStatus) Terminal() bool {
	return s == StatusRejected || s == StatusReturned
}

type Item struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	Quantity  int           `json:"quantity"`
	Fees      map[int]int64 `json:"fees,omitempty"` // duration days -> fee
	CreatedAt string        `json:"created_at,omitempty"`
}

// FeeFor returns the quoted fee for a rental of the given length, or 0 when the
// schedule has no entry for it.
func (i Item) FeeFor(days int) int64 {
	if i.Fees == nil {
		return 0
	}
	return i.Fees[days]
}

type Rental struct {
	ID           int64        `json:"id"`
	Ref          string       `json:"ref"`
	ItemID       int64        `json:"item_id"`
	ItemTitle    string       `json:"item_title,omitempty"`
	RequesterID  int64        `json:"requester_id"`
	Status       RentalStatus `json:"status"`
	DurationDays int          `json:"duration_days"`
	FeeTotal     int64        `json:"fee_total"`
	CreatedAt    time.Time    `json:"created_at"`
	StartAt      *time.Time   `json:"start_at,omitempty"`
	DueAt        *time.Time   `json:"due_at,omitempty"`
	ReturnedAt   *time.Time   `json:"returned_at,omitempty"`
	DecidedBy    *int64       `json:"decided_by,omitempty"`
	ClosedBy     *int64       `json:"closed_by,omitempty"`

	Penalty PenaltyTerms `json:"penalty"`
	// PenaltyAmount is the penalty realized at return; nil while the rental is open.
	PenaltyAmount *int64 `json:"penalty_amount,omitempty"`
}

// PenaltyTerms are the per-rental adjustments an authority may apply on top of
// the default per-day rate.
type PenaltyTerms struct {
	PerDay    *int64     `json:"per_day,omitempty"`
	Fixed     *int64     `json:"fixed,omitempty"`
	Waived    bool       `json:"waived"`
	Note      string     `json:"note,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	UpdatedBy *int64     `json:"updated_by,omitempty"`
}

// Overdue is derived from the timestamps and never stored.
func (r Rental) Overdue(now time.Time) bool {
	return r.Status == StatusApproved && r.ReturnedAt == nil && r.DueAt != nil && now.After(*r.DueAt)
}

// EffectiveEnd is the instant lateness is measured against: the return time
// once returned, otherwise now.
func (r Rental) EffectiveEnd(now time.Time) time.Time {
	if r.ReturnedAt != nil {
		return *r.ReturnedAt
	}
	return now
}

type Stock struct {
	ItemID    int64  `json:"item_id"`
	Title     string `json:"title,omitempty"`
	Total     int    `json:"total"`
	Rented    int    `json:"rented"`
	Available int    `json:"available"`
	Status    string `json:"status"` // IN_STOCK | LOW_STOCK | OUT_OF_STOCK
}

type NotificationKind string

const (
	KindDueSoon      NotificationKind = "due-soon"
	KindOverdueDaily NotificationKind = "overdue-daily"

	// KindPing marks a reminder an authority sent by hand. It is never
	// claimed in the ledger.
	KindPing NotificationKind = "ping"
)

func (k NotificationKind) Valid() bool {
	return k == KindDueSoon || k == KindOverdueDaily
}

type NotificationRecord struct {
	RentalID     int64            `db:"rental_id"`
	Kind         NotificationKind `db:"kind"`
	LastSentDate string           `db:"last_sent_date"` // YYYY-MM-DD in the configured zone
}

// RenterCount is one line of a per-requester report.
type RenterCount struct {
	RequesterID int64  `db:"requester_id" json:"requester_id"`
	Count       int    `db:"n" json:"count"`
	Titles      string `db:"titles" json:"titles,omitempty"`
}
