package services

import (
	"context"
	"time"

	"rentdesk/internal/domain"
	"rentdesk/internal/repos"
)

type ClaimResult string

const (
	Claimed     ClaimResult = "CLAIMED"
	AlreadySent ClaimResult = "ALREADY_SENT"
)

// LedgerService decides whether a reminder may go out today. Today is the
// calendar date in Loc.
type LedgerService struct {
	Repo  *repos.NotificationRepo
	Clock Clock
	Loc   *time.Location
}

func NewLedgerService(repo *repos.NotificationRepo, clock Clock, loc *time.Location) *LedgerService {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &LedgerService{Repo: repo, Clock: clock, Loc: loc}
}

// TryClaim must be called before sending. A claim is not given back when the
// send fails; the reminder goes out again the next calendar day.
func (s *LedgerService) TryClaim(ctx context.Context, rentalID int64, kind domain.NotificationKind) (ClaimResult, error) {
	if rentalID <= 0 {
		return "", invalid("rental id must be positive")
	}
	if !kind.Valid() {
		return "", invalid("unknown notification kind " + string(kind))
	}
	ok, err := s.Repo.Claim(ctx, rentalID, kind, Today(s.Clock, s.Loc))
	if err != nil {
		return "", storeErr("claim notification", err)
	}
	if !ok {
		return AlreadySent, nil
	}
	return Claimed, nil
}
