package repos

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrBusy marks store contention (SQLITE_BUSY / SQLITE_LOCKED) that outlived
	// the busy timeout. The whole operation is safe to retry.
	ErrBusy = errors.New("store busy")

	ErrNotFound = sql.ErrNoRows

	// ErrNoStock: every unit of the item is held by an approved rental.
	ErrNoStock = errors.New("no stock")

	// ErrAlreadyDecided: the rental exists but is no longer in the state the
	// transition starts from.
	ErrAlreadyDecided = errors.New("already decided")
)

// classify wraps contention errors with ErrBusy and passes others through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %v", op, ErrBusy, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

const tsLayout = "2006-01-02T15:04:05Z"

// ts formats an instant the way every timestamp column stores it: UTC, second
// precision, lexically ordered.
func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) (time.Time, error) {
	if t, err := time.Parse(tsLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
