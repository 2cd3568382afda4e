// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Error kinds understood by RespondError. Domain packages keep their own
// sentinels and attach a kind with Wrap at the handler boundary.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrValidation    = errors.New("validation failed")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUnprocessable = errors.New("unprocessable entity")
	ErrUnavailable   = errors.New("service unavailable")
)

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

// Wrap tags err with kind. The result matches both under errors.Is and
// keeps err's message, which RespondError reports as the problem detail.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Validation tags err as a client input error.
func Validation(err error) error {
	return Wrap(ErrValidation, err)
}

var problems = []struct {
	kind   error
	status int
	title  string
}{
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{ErrDuplicate, http.StatusConflict, "Duplicate"},
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrUnprocessable, http.StatusUnprocessableEntity, "Unprocessable Entity"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{ErrUnavailable, http.StatusServiceUnavailable, "Service Unavailable"},
}

// RespondError maps error kinds to RFC7807 responses. Untagged errors are
// reported as a 500 without detail.
func RespondError(w http.ResponseWriter, err error) {
	for _, p := range problems {
		if errors.Is(err, p.kind) {
			Problem(w, p.status, p.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
