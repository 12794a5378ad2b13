package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rentdesk/internal/services"
)

func TestComputePenalty(t *testing.T) {
	d0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	five := int64(5000)
	negative := int64(-10)

	cases := []struct {
		name     string
		due, end time.Time
		policy   services.PenaltyPolicy
		want     int64
		daysLate int
	}{
		{"on time", d0, d0.Add(-time.Hour), services.PenaltyPolicy{PerDay: 2000}, 0, 0},
		{"exactly due", d0, d0, services.PenaltyPolicy{PerDay: 2000}, 0, 0},
		{"partial day rounds up", d0, d0.Add(3 * time.Hour), services.PenaltyPolicy{PerDay: 2000}, 2000, 1},
		{"two days", d0, d0.Add(48 * time.Hour), services.PenaltyPolicy{PerDay: 2000}, 4000, 2},
		{"two days and a second", d0, d0.Add(48*time.Hour + time.Second), services.PenaltyPolicy{PerDay: 2000}, 6000, 3},
		{"waived", d0, d0.Add(48 * time.Hour), services.PenaltyPolicy{PerDay: 2000, Waived: true}, 0, 2},
		{"override", d0, d0.Add(48 * time.Hour), services.PenaltyPolicy{PerDay: 2000, Override: &five}, 5000, 2},
		{"override beats on-time", d0, d0.Add(-time.Hour), services.PenaltyPolicy{PerDay: 2000, Override: &five}, 5000, 0},
		{"negative override clamps", d0, d0.Add(48 * time.Hour), services.PenaltyPolicy{PerDay: 2000, Override: &negative}, 0, 2},
		{"waived beats override", d0, d0.Add(48 * time.Hour), services.PenaltyPolicy{Override: &five, Waived: true}, 0, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := services.ComputePenalty(tc.due, tc.end, tc.policy)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, p.Amount)
			assert.Equal(t, tc.daysLate, p.DaysLate)
		})
	}
}

func TestComputePenalty_MissingDue(t *testing.T) {
	p, err := services.ComputePenalty(time.Time{}, time.Now(), services.PenaltyPolicy{PerDay: 2000})
	assert.Equal(t, int64(0), p.Amount)
	assert.Equal(t, services.CodeDataInconsistent, services.Code(err))
}
