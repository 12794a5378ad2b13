package services

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Today is the calendar date of now in loc, as stored in the ledger.
func Today(c Clock, loc *time.Location) string {
	return c.Now().In(loc).Format("2006-01-02")
}
