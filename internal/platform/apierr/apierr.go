package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Validation marks input rejected before any I/O happened.
func Validation(err error) *Error {
	return New(http.StatusBadRequest, "validation_failed", err)
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, "not_found", err)
}

// Store wraps a query/transaction failure on a fail-closed path.
func Store(err error) *Error {
	return New(http.StatusInternalServerError, "store_error", err)
}

func IsValidation(err error) bool { return hasCode(err, "validation_failed") }
func IsNotFound(err error) bool   { return hasCode(err, "not_found") }

func hasCode(err error, code string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
