package services

import (
	"context"
	"errors"
	"time"

	"rentdesk/internal/domain"
	applog "rentdesk/internal/log"
	"rentdesk/internal/repos"
)

type Outcome string

const (
	OutcomeCreated         Outcome = "CREATED"
	OutcomeApproved        Outcome = "APPROVED"
	OutcomeRejected        Outcome = "REJECTED"
	OutcomeReturned        Outcome = "RETURNED"
	OutcomeRejectedNoStock Outcome = "REJECTED_NO_STOCK"
	OutcomeOutOfStock      Outcome = "OUT_OF_STOCK"
	OutcomeNotFound        Outcome = "NOT_FOUND"
)

type CreateResult struct {
	Outcome  Outcome
	RentalID int64
	Ref      string
	FeeTotal int64
}

// ApproveResult: on OutcomeNotFound, AlreadyDecided tells "someone else got
// there first" apart from "no such rental".
type ApproveResult struct {
	Outcome        Outcome
	AlreadyDecided bool
	Rental         domain.Rental
}

type RejectResult struct {
	Outcome        Outcome
	AlreadyDecided bool
	Rental         domain.Rental
}

type ReturnResult struct {
	Outcome        Outcome
	AlreadyDecided bool
	Rental         domain.Rental
	Penalty        int64
	DaysLate       int
}

// RentalView is a rental with the fields derived at read time.
type RentalView struct {
	domain.Rental
	Overdue      bool  `json:"overdue"`
	DaysLate     int   `json:"days_late"`
	PenaltySoFar int64 `json:"penalty_so_far"`
}

const DefaultPenaltyPerDay int64 = 2000

type RentalService struct {
	Items    *repos.ItemRepo
	Rentals  *repos.RentalRepo
	Settings *repos.SettingsRepo
	Clock    Clock

	// DefaultRate applies when the settings row is missing.
	DefaultRate int64
	NewRef      func() string
}

func NewRentalService(items *repos.ItemRepo, rentals *repos.RentalRepo, settings *repos.SettingsRepo, clock Clock) *RentalService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &RentalService{
		Items:       items,
		Rentals:     rentals,
		Settings:    settings,
		Clock:       clock,
		DefaultRate: DefaultPenaltyPerDay,
		NewRef:      NewRef,
	}
}

// Create files a request. The stock check here is best effort; only approval
// holds a unit.
func (s *RentalService) Create(ctx context.Context, itemID, requesterID int64, days int) (CreateResult, error) {
	switch {
	case itemID <= 0:
		return CreateResult{}, invalid("item id must be positive")
	case requesterID <= 0:
		return CreateResult{}, invalid("requester id must be positive")
	case days <= 0:
		return CreateResult{}, invalid("duration must be at least one day")
	}

	item, err := s.Items.Get(ctx, itemID)
	if errors.Is(err, repos.ErrNotFound) {
		return CreateResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return CreateResult{}, storeErr("create rental", err)
	}

	fee := item.FeeFor(days)
	ref := s.NewRef()
	id, err := s.Rentals.InsertRequested(ctx, ref, itemID, requesterID, days, fee, s.Clock.Now())
	if errors.Is(err, repos.ErrNoStock) {
		return CreateResult{Outcome: OutcomeOutOfStock}, nil
	}
	if err != nil {
		return CreateResult{}, storeErr("create rental", err)
	}
	return CreateResult{Outcome: OutcomeCreated, RentalID: id, Ref: ref, FeeTotal: fee}, nil
}

// ApproveIfAvailable grants a unit iff the rental is still requested and the
// item has one free, in a single conditional write.
func (s *RentalService) ApproveIfAvailable(ctx context.Context, rentalID, authorityID int64) (ApproveResult, error) {
	if rentalID <= 0 {
		return ApproveResult{}, invalid("rental id must be positive")
	}
	row, err := s.Rentals.Approve(ctx, rentalID, authorityID, s.Clock.Now())
	switch {
	case err == nil:
		return ApproveResult{Outcome: OutcomeApproved, Rental: s.toDomain(row)}, nil
	case errors.Is(err, repos.ErrNoStock):
		return ApproveResult{Outcome: OutcomeRejectedNoStock}, nil
	case errors.Is(err, repos.ErrAlreadyDecided):
		return ApproveResult{Outcome: OutcomeNotFound, AlreadyDecided: true}, nil
	case errors.Is(err, repos.ErrNotFound):
		return ApproveResult{Outcome: OutcomeNotFound}, nil
	}
	return ApproveResult{}, storeErr("approve rental", err)
}

func (s *RentalService) Reject(ctx context.Context, rentalID, authorityID int64) (RejectResult, error) {
	if rentalID <= 0 {
		return RejectResult{}, invalid("rental id must be positive")
	}
	row, err := s.Rentals.Reject(ctx, rentalID, authorityID)
	switch {
	case err == nil:
		return RejectResult{Outcome: OutcomeRejected, Rental: s.toDomain(row)}, nil
	case errors.Is(err, repos.ErrAlreadyDecided):
		return RejectResult{Outcome: OutcomeNotFound, AlreadyDecided: true}, nil
	case errors.Is(err, repos.ErrNotFound):
		return RejectResult{Outcome: OutcomeNotFound}, nil
	}
	return RejectResult{}, storeErr("reject rental", err)
}

type ReturnRequest struct {
	RentalID        int64
	AuthorityID     int64
	PenaltyOverride *int64
	Waived          *bool
}

// Return closes an approved rental and freezes its penalty.
func (s *RentalService) Return(ctx context.Context, req ReturnRequest) (ReturnResult, error) {
	if req.RentalID <= 0 {
		return ReturnResult{}, invalid("rental id must be positive")
	}
	if req.PenaltyOverride != nil && *req.PenaltyOverride < 0 {
		return ReturnResult{}, invalid("penalty override must not be negative")
	}
	rate, err := s.defaultRate(ctx)
	if err != nil {
		return ReturnResult{}, err
	}

	now := s.Clock.Now()
	var p Penalty
	row, err := s.Rentals.Return(ctx, repos.ReturnArgs{
		ID:            req.RentalID,
		AuthorityID:   req.AuthorityID,
		Now:           now,
		FixedOverride: req.PenaltyOverride,
		Waive:         req.Waived,
	}, func(row repos.RentalRow) int64 {
		r := s.toDomain(row)
		p = s.penalty(r, now, rate)
		return p.Amount
	})
	switch {
	case err == nil:
		return ReturnResult{Outcome: OutcomeReturned, Rental: s.toDomain(row), Penalty: p.Amount, DaysLate: p.DaysLate}, nil
	case errors.Is(err, repos.ErrAlreadyDecided):
		return ReturnResult{Outcome: OutcomeNotFound, AlreadyDecided: true}, nil
	case errors.Is(err, repos.ErrNotFound):
		return ReturnResult{Outcome: OutcomeNotFound}, nil
	}
	return ReturnResult{}, storeErr("return rental", err)
}

// PenaltyChange edits the terms of an active rental. Nil fields stay as they
// are.
type PenaltyChange struct {
	PerDay      *int64
	ClearPerDay bool
	Fixed       *int64
	ClearFixed  bool
	Waived      *bool
	Note        *string
}

// UpdatePenalty returns NOT_FOUND once the rental has left approved: the
// realized penalty of a returned rental is final.
func (s *RentalService) UpdatePenalty(ctx context.Context, rentalID, authorityID int64, ch PenaltyChange) (RentalView, error) {
	if rentalID <= 0 {
		return RentalView{}, invalid("rental id must be positive")
	}
	if (ch.PerDay != nil && *ch.PerDay < 0) || (ch.Fixed != nil && *ch.Fixed < 0) {
		return RentalView{}, invalid("penalty amounts must not be negative")
	}
	row, err := s.Rentals.UpdatePenalty(ctx, rentalID, repos.PenaltyUpdate{
		PerDay:      ch.PerDay,
		ClearPerDay: ch.ClearPerDay,
		Fixed:       ch.Fixed,
		ClearFixed:  ch.ClearFixed,
		Waived:      ch.Waived,
		Note:        ch.Note,
		By:          authorityID,
		At:          s.Clock.Now(),
	})
	if errors.Is(err, repos.ErrAlreadyDecided) {
		return RentalView{}, newErr(CodeNotFound, "rental is not active", err)
	}
	if err != nil {
		return RentalView{}, storeErr("update penalty", err)
	}
	rate, err := s.defaultRate(ctx)
	if err != nil {
		return RentalView{}, err
	}
	return s.view(s.toDomain(row), s.Clock.Now(), rate), nil
}

// ---------- Reads ----------

func (s *RentalService) Get(ctx context.Context, rentalID int64) (RentalView, error) {
	row, err := s.Rentals.Get(ctx, rentalID)
	if err != nil {
		return RentalView{}, storeErr("get rental", err)
	}
	rate, err := s.defaultRate(ctx)
	if err != nil {
		return RentalView{}, err
	}
	return s.view(s.toDomain(row), s.Clock.Now(), rate), nil
}

// GetByRef looks a rental up by its public reference.
func (s *RentalService) GetByRef(ctx context.Context, ref string) (RentalView, error) {
	row, err := s.Rentals.GetByRef(ctx, ref)
	if err != nil {
		return RentalView{}, storeErr("get rental", err)
	}
	rate, err := s.defaultRate(ctx)
	if err != nil {
		return RentalView{}, err
	}
	return s.view(s.toDomain(row), s.Clock.Now(), rate), nil
}

func (s *RentalService) ListByRequester(ctx context.Context, requesterID int64, limit int) ([]RentalView, error) {
	if requesterID <= 0 {
		return nil, invalid("requester id must be positive")
	}
	rows, err := s.Rentals.ListByRequester(ctx, requesterID, limit)
	if err != nil {
		return nil, storeErr("list rentals", err)
	}
	return s.views(ctx, rows)
}

func (s *RentalService) ListByStatus(ctx context.Context, status domain.RentalStatus, limit int) ([]RentalView, error) {
	rows, err := s.Rentals.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, storeErr("list rentals", err)
	}
	return s.views(ctx, rows)
}

// ListOverdue pages through rentals past due with their penalty so far.
func (s *RentalService) ListOverdue(ctx context.Context, limit, offset int) ([]RentalView, int, error) {
	now := s.Clock.Now()
	total, err := s.Rentals.CountOverdue(ctx, now)
	if err != nil {
		return nil, 0, storeErr("count overdue", err)
	}
	rows, err := s.Rentals.ListOverdue(ctx, now, limit, offset)
	if err != nil {
		return nil, 0, storeErr("list overdue", err)
	}
	out, err := s.views(ctx, rows)
	return out, total, err
}

// DueBetweenUnsent and OverdueUnsent are the reminder candidates: rentals
// whose reminder of kind has not been claimed on date.
func (s *RentalService) DueBetweenUnsent(ctx context.Context, from, to time.Time, kind domain.NotificationKind, date string, limit int) ([]RentalView, error) {
	rows, err := s.Rentals.ListDueBetweenUnsent(ctx, from, to, kind, date, limit)
	if err != nil {
		return nil, storeErr("list due", err)
	}
	return s.views(ctx, rows)
}

func (s *RentalService) OverdueUnsent(ctx context.Context, kind domain.NotificationKind, date string, limit int) ([]RentalView, error) {
	rows, err := s.Rentals.ListOverdueUnsent(ctx, s.Clock.Now(), kind, date, limit)
	if err != nil {
		return nil, storeErr("list overdue", err)
	}
	return s.views(ctx, rows)
}

// ---------- Penalty policy ----------

func (s *RentalService) PenaltyPerDay(ctx context.Context) (int64, error) {
	return s.defaultRate(ctx)
}

func (s *RentalService) SetPenaltyPerDay(ctx context.Context, v int64) error {
	if v < 0 {
		return invalid("penalty per day must not be negative")
	}
	return storeErr("set penalty rate", s.Settings.SetPenaltyPerDay(ctx, v))
}

func (s *RentalService) defaultRate(ctx context.Context) (int64, error) {
	v, err := s.Settings.PenaltyPerDay(ctx)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, repos.ErrNotFound):
		return s.DefaultRate, nil
	case errors.Is(err, repos.ErrBusy):
		return 0, storeErr("penalty rate", err)
	}
	applog.Warn(nil, "settings.penalty_rate.invalid", err, map[string]any{"fallback": s.DefaultRate})
	return s.DefaultRate, nil
}

func policyFor(r domain.Rental, defaultRate int64) PenaltyPolicy {
	rate := defaultRate
	if r.Penalty.PerDay != nil && *r.Penalty.PerDay > 0 {
		rate = *r.Penalty.PerDay
	}
	return PenaltyPolicy{PerDay: rate, Override: r.Penalty.Fixed, Waived: r.Penalty.Waived}
}

// penalty measures r against its effective end; an inconsistent row is
// reported and charged nothing.
func (s *RentalService) penalty(r domain.Rental, now time.Time, defaultRate int64) Penalty {
	var due time.Time
	if r.DueAt != nil {
		due = *r.DueAt
	}
	p, err := ComputePenalty(due, r.EffectiveEnd(now), policyFor(r, defaultRate))
	if err != nil {
		applog.Warn(nil, "rental.data_inconsistent", err, map[string]any{"rental_id": r.ID, "status": r.Status})
	}
	return p
}

func (s *RentalService) view(r domain.Rental, now time.Time, defaultRate int64) RentalView {
	v := RentalView{Rental: r, Overdue: r.Overdue(now)}
	switch r.Status {
	case domain.StatusApproved:
		p := s.penalty(r, now, defaultRate)
		v.DaysLate, v.PenaltySoFar = p.DaysLate, p.Amount
	case domain.StatusReturned:
		if r.DueAt != nil && r.ReturnedAt != nil {
			v.DaysLate = DaysLate(*r.DueAt, *r.ReturnedAt)
		}
		if r.PenaltyAmount != nil {
			v.PenaltySoFar = *r.PenaltyAmount
		}
	}
	return v
}

func (s *RentalService) views(ctx context.Context, rows []repos.RentalRow) ([]RentalView, error) {
	if len(rows) == 0 {
		return []RentalView{}, nil
	}
	rate, err := s.defaultRate(ctx)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	out := make([]RentalView, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.view(s.toDomain(row), now, rate))
	}
	return out, nil
}

func (s *RentalService) toDomain(row repos.RentalRow) domain.Rental {
	r, bad := row.ToDomain()
	if len(bad) > 0 {
		applog.Warn(nil, "rental.data_inconsistent", nil, map[string]any{"rental_id": row.ID, "columns": bad})
	}
	return r
}
