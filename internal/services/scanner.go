package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"rentdesk/internal/domain"
	applog "rentdesk/internal/log"
	"rentdesk/internal/notify"
)

// ScanReport counts what one pass did, per kind.
type ScanReport struct {
	RunID   string `json:"run_id"`
	DueSoon Tally  `json:"due_soon"`
	Overdue Tally  `json:"overdue"`
}

type Tally struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Skipped    int `json:"skipped"` // already sent today
	Failed     int `json:"failed"`
}

// Scanner is the periodic reminder job. It reads rental state, claims in the
// ledger and sends; it never changes a rental.
type Scanner struct {
	Rentals  *RentalService
	Ledger   *LedgerService
	Notifier notify.Notifier
	Clock    Clock
	Loc      *time.Location

	Limit         int // candidates per kind per pass
	RetryAttempts int
	printer       *message.Printer
}

func NewScanner(rentals *RentalService, ledger *LedgerService, n notify.Notifier, clock Clock, loc *time.Location) *Scanner {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Scanner{
		Rentals:       rentals,
		Ledger:        ledger,
		Notifier:      n,
		Clock:         clock,
		Loc:           loc,
		Limit:         200,
		RetryAttempts: 3,
		printer:       message.NewPrinter(language.English),
	}
}

// Run scans once immediately and then every interval until ctx ends.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			applog.Error(nil, "scan.fail", err, nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RunOnce performs one pass. A failed send is logged and counted; the pass
// continues with the next candidate. Candidates are fetched in batches of
// Limit, skipping rentals already reminded today, until none are left.
func (s *Scanner) RunOnce(ctx context.Context) (ScanReport, error) {
	rep := ScanReport{RunID: uuid.NewString()}
	now := s.Clock.Now().In(s.Loc)
	today := Today(s.Clock, s.Loc)

	// due tomorrow, in the configured zone
	y, m, d := now.Date()
	from := time.Date(y, m, d+1, 0, 0, 0, 0, s.Loc)
	to := time.Date(y, m, d+2, 0, 0, 0, 0, s.Loc)

	err := s.pass(ctx, rep.RunID, domain.KindDueSoon, &rep.DueSoon, func(ctx context.Context) ([]RentalView, error) {
		return s.Rentals.DueBetweenUnsent(ctx, from, to, domain.KindDueSoon, today, s.Limit)
	})
	if err != nil {
		return rep, err
	}
	err = s.pass(ctx, rep.RunID, domain.KindOverdueDaily, &rep.Overdue, func(ctx context.Context) ([]RentalView, error) {
		return s.Rentals.OverdueUnsent(ctx, domain.KindOverdueDaily, today, s.Limit)
	})
	if err != nil {
		return rep, err
	}

	applog.Info(nil, "scan.done", map[string]any{
		"run_id":   rep.RunID,
		"due_soon": rep.DueSoon,
		"overdue":  rep.Overdue,
	})
	return rep, nil
}

// pass drains one kind. A batch in which nothing could be claimed ends the
// pass; its rentals would only come back again.
func (s *Scanner) pass(ctx context.Context, runID string, kind domain.NotificationKind, t *Tally, list func(context.Context) ([]RentalView, error)) error {
	limit := s.Limit
	if limit <= 0 {
		limit = 200
	}
	for ctx.Err() == nil {
		var batch []RentalView
		err := Retry(ctx, s.RetryAttempts, 100*time.Millisecond, func() (err error) {
			batch, err = list(ctx)
			return err
		})
		if err != nil {
			return err
		}
		t.Candidates += len(batch)
		claimed := 0
		for _, r := range batch {
			if s.remind(ctx, runID, r, kind, t) {
				claimed++
			}
		}
		if len(batch) < limit || claimed == 0 {
			return nil
		}
	}
	return nil
}

// remind reports whether (rental, kind) is now claimed for today.
func (s *Scanner) remind(ctx context.Context, runID string, r RentalView, kind domain.NotificationKind, t *Tally) bool {
	if ctx.Err() != nil {
		return false
	}
	var res ClaimResult
	err := Retry(ctx, s.RetryAttempts, 100*time.Millisecond, func() (err error) {
		res, err = s.Ledger.TryClaim(ctx, r.ID, kind)
		return err
	})
	if err != nil {
		t.Failed++
		applog.Error(nil, "scan.claim.fail", err, map[string]any{"run_id": runID, "rental_id": r.ID, "kind": kind})
		return false
	}
	if res == AlreadySent {
		// another scanner got it between the query and the claim
		t.Skipped++
		return true
	}

	msg := notify.Message{
		RentalID:    r.ID,
		RequesterID: r.RequesterID,
		Kind:        string(kind),
		Text:        s.text(r, kind),
		RunID:       runID,
	}
	if err := s.Notifier.Send(ctx, msg); err != nil {
		// claimed for today regardless; next attempt is tomorrow's pass
		t.Failed++
		applog.Error(nil, "scan.send.fail", err, map[string]any{"run_id": runID, "rental_id": r.ID, "kind": kind})
		return true
	}
	t.Sent++
	return true
}

const (
	OutcomeSent         Outcome = "SENT"
	OutcomeNotDelivered Outcome = "NOT_DELIVERED"
)

// PingResult: on OutcomeNotDelivered, Err holds the notifier's error.
type PingResult struct {
	Outcome        Outcome
	AlreadyDecided bool
	Rental         domain.Rental
	Err            error
}

// Ping sends a one-off reminder for an approved rental at an authority's
// request. The ledger is not touched, so the daily reminder still goes out.
func (s *Scanner) Ping(ctx context.Context, rentalID int64) (PingResult, error) {
	if rentalID <= 0 {
		return PingResult{}, invalid("rental id must be positive")
	}
	v, err := s.Rentals.Get(ctx, rentalID)
	if Code(err) == CodeNotFound {
		return PingResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return PingResult{}, err
	}
	if v.Status != domain.StatusApproved {
		return PingResult{Outcome: OutcomeNotFound, AlreadyDecided: true, Rental: v.Rental}, nil
	}
	err = s.Notifier.Send(ctx, notify.Message{
		RentalID:    v.ID,
		RequesterID: v.RequesterID,
		Kind:        string(domain.KindPing),
		Text:        s.text(v, domain.KindOverdueDaily),
	})
	if err != nil {
		return PingResult{Outcome: OutcomeNotDelivered, Rental: v.Rental, Err: err}, nil
	}
	return PingResult{Outcome: OutcomeSent, Rental: v.Rental}, nil
}

func (s *Scanner) text(r RentalView, kind domain.NotificationKind) string {
	if s.printer == nil {
		s.printer = message.NewPrinter(language.English)
	}
	title := r.ItemTitle
	if title == "" {
		title = "your rental"
	}
	dueDate := "?"
	if r.DueAt != nil {
		dueDate = r.DueAt.In(s.Loc).Format("2006-01-02")
	}
	switch {
	case kind == domain.KindDueSoon:
		return s.printer.Sprintf("Reminder: %s is due back tomorrow (%s).", title, dueDate)
	case r.DueAt == nil:
		return s.printer.Sprintf("Reminder: please return %s.", title)
	case !r.Overdue:
		return s.printer.Sprintf("Reminder: %s is due back on %s.", title, dueDate)
	}
	txt := s.printer.Sprintf("Overdue: %s was due %s and is %d day(s) late.", title, dueDate, r.DaysLate)
	if r.PenaltySoFar > 0 {
		txt += s.printer.Sprintf(" Penalty so far: %d.", r.PenaltySoFar)
	}
	return txt + " Please return it as soon as possible."
}
