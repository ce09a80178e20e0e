package api

import (
	"net/http"

	"github.com/teranos/nexus/errors"
)

// Stable error codes carried in Response.Code
const (
	CodeValidation      = "validation_error"
	CodeUnknownAction   = "unknown_action"
	CodeUnknownEngine   = "unknown_engine"
	CodeNotFound        = "not_found"
	CodeAlreadyRunning  = "already_running"
	CodeEngineFailed    = "engine_failed"
	CodeTimeout         = "timeout"
	CodeEngineExecution = "engine_execution_failed"
	CodeRateLimited     = "rate_limited"
	CodeStorage         = "storage_error"
	CodeInternal        = "internal_error"
)

// Classification is how an error is presented to a caller
type Classification struct {
	Code   string
	Status int
	// Message is safe to show; internal causes never reach it
	Message string
}

// Classify maps an error onto its stable code, HTTP status and public
// message. Engine failures and timeouts are handled business outcomes and
// keep status 200; the response's success flag carries the failure.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return Classification{Status: http.StatusOK}
	case errors.Is(err, errors.ErrValidation):
		return Classification{CodeValidation, http.StatusBadRequest, err.Error()}
	case errors.Is(err, errors.ErrUnknownAction):
		return Classification{CodeUnknownAction, http.StatusNotFound, err.Error()}
	case errors.Is(err, errors.ErrUnknownEngine):
		return Classification{CodeUnknownEngine, http.StatusNotFound, err.Error()}
	case errors.Is(err, errors.ErrNotFound):
		return Classification{CodeNotFound, http.StatusNotFound, err.Error()}
	case errors.Is(err, errors.ErrAlreadyRunning):
		return Classification{CodeAlreadyRunning, http.StatusConflict, err.Error()}
	case errors.Is(err, errors.ErrEngineFailed):
		return Classification{CodeEngineFailed, http.StatusConflict, withHints(err)}
	case errors.Is(err, errors.ErrTimeout):
		return Classification{CodeTimeout, http.StatusOK, err.Error()}
	case errors.Is(err, errors.ErrEngineExecution):
		return Classification{CodeEngineExecution, http.StatusOK, err.Error()}
	case errors.Is(err, errors.ErrStorage):
		return Classification{CodeStorage, http.StatusInternalServerError, "storage failure"}
	default:
		return Classification{CodeInternal, http.StatusInternalServerError, "internal error"}
	}
}

func withHints(err error) string {
	msg := err.Error()
	if hint := errors.FlattenHints(err); hint != "" {
		msg += " (" + hint + ")"
	}
	return msg
}
