package validate

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

const (
	MaxDays   = 365
	MaxAmount = 1_000_000_000
)

// ID parses a positive integer identifier (item, rental, requester, authority).
func ID(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Ref accepts a public rental reference (a canonical ULID).
func Ref(s string) (string, bool) {
	id, err := ulid.ParseStrict(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// Days validates a requested rental length.
func Days(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > MaxDays {
		return 0, false
	}
	return n, true
}

// Amount validates a money amount in minor units. Empty means "not given".
func Amount(s string) (v int64, given, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 || n > MaxAmount {
		return 0, true, false
	}
	return n, true, true
}

// Note validates free text attached to a penalty decision.
func Note(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 200 {
		return "", false
	}
	return s, true
}

// Key enforces the bcrypt input window for authority keys.
func Key(s string) bool {
	return s != "" && len(s) <= 72
}

// Page parses a 1-based page number, defaulting to 1.
func Page(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 1
	}
	if n > 1000 {
		return 1000
	} // clamp to avoid abuse
	return n
}

// Flag reads a checkbox/boolean form value.
func Flag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
