package services

import (
	"time"
)

// PenaltyPolicy is the rate and adjustments in force for one rental.
type PenaltyPolicy struct {
	PerDay   int64
	Override *int64 // fixed amount replacing the per-day computation
	Waived   bool
}

type Penalty struct {
	Amount   int64
	DaysLate int
}

const day = 24 * time.Hour

// DaysLate counts started days past due; a partial day counts as a full one.
func DaysLate(due, end time.Time) int {
	late := end.Sub(due)
	if late <= 0 {
		return 0
	}
	n := int(late / day)
	if late%day != 0 {
		n++
	}
	return n
}

// ComputePenalty is pure. A zero due time cannot be measured against: the
// result is zero with a DATA_INCONSISTENT error the caller logs and ignores.
func ComputePenalty(due, end time.Time, p PenaltyPolicy) (Penalty, error) {
	var out Penalty
	if !due.IsZero() {
		out.DaysLate = DaysLate(due, end)
	}
	switch {
	case p.Waived:
		return out, nil
	case p.Override != nil:
		if *p.Override > 0 {
			out.Amount = *p.Override
		}
		return out, nil
	case due.IsZero():
		return out, newErr(CodeDataInconsistent, "rental has no due time", nil)
	}
	if p.PerDay > 0 {
		out.Amount = int64(out.DaysLate) * p.PerDay
	}
	return out, nil
}
