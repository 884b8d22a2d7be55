package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors shared across domain modules.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
)

// RespondError maps shared sentinel errors to HTTP responses. Modules with a
// richer error taxonomy (settlement) perform their own mapping.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Error(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Error(w, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Error(w, http.StatusBadRequest, "validation failed", err.Error())
	default:
		Error(w, http.StatusInternalServerError, "internal error", "")
	}
}
