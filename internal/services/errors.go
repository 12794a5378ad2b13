package services

import (
	"errors"
	"fmt"

	"rentdesk/internal/repos"
)

type ErrCode string

const (
	CodeNotFound         ErrCode = "NOT_FOUND"
	CodeOutOfStock       ErrCode = "OUT_OF_STOCK"
	CodeInvalidArgument  ErrCode = "INVALID_ARGUMENT"
	CodeTransient        ErrCode = "TRANSIENT"
	CodeDataInconsistent ErrCode = "DATA_INCONSISTENT"
	CodeInternal         ErrCode = "INTERNAL"
)

// Error is a coded fault. Business outcomes (no stock, already decided) are
// results, not errors; Error carries what a caller must branch on.
type Error struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(code ErrCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func invalid(msg string) error { return newErr(CodeInvalidArgument, msg, nil) }

// Code extracts the code of err, INTERNAL for uncoded errors and "" for nil.
func Code(err error) ErrCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsTransient reports whether the whole operation may be retried.
func IsTransient(err error) bool { return Code(err) == CodeTransient }

// storeErr codes an error coming out of the repos layer.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repos.ErrBusy):
		return newErr(CodeTransient, op+": store busy", err)
	case errors.Is(err, repos.ErrNotFound):
		return newErr(CodeNotFound, op+": not found", err)
	default:
		return newErr(CodeInternal, op, err)
	}
}
