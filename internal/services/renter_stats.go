package services

import (
	"context"

	"rentdesk/internal/domain"
)

const (
	TopRentersLimit = 10
	// BlacklistMinLate is how many late incidents put a requester on the
	// blacklist.
	BlacklistMinLate = 3
)

// RenterStats backs the console statistics page.
type RenterStats struct {
	Top         []domain.RenterCount `json:"top"`
	NotReturned []domain.RenterCount `json:"not_returned"`
	Blacklist   []domain.RenterCount `json:"blacklist"`
}

// Stats reports the most active requesters, those holding overdue items and
// those late at least BlacklistMinLate times. Read only.
func (s *RentalService) Stats(ctx context.Context) (RenterStats, error) {
	var out RenterStats
	var err error
	now := s.Clock.Now()
	if out.Top, err = s.Rentals.TopRenters(ctx, TopRentersLimit); err != nil {
		return RenterStats{}, storeErr("top renters", err)
	}
	if out.NotReturned, err = s.Rentals.NotReturned(ctx, now); err != nil {
		return RenterStats{}, storeErr("not returned", err)
	}
	if out.Blacklist, err = s.Rentals.LateRenters(ctx, now, BlacklistMinLate); err != nil {
		return RenterStats{}, storeErr("late renters", err)
	}
	return out, nil
}
