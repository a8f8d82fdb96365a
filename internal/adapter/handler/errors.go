package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeValidation         = "validation_failed"
	codeNotFound           = "not_found"
	codeForbidden          = "forbidden"
	codeInsufficientStock  = "insufficient_stock"
	codeConflict           = "concurrent_update"
	codeDuplicateRequest   = "duplicate_request"
	codeAlreadyReturned    = "already_returned"
	codeOutstandingBorrows = "outstanding_borrows"
	codeUnavailable        = "unavailable"
	codeInternalError      = "internal_error"
)

const msgRetry = "operation failed, retry"

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// errorStatus maps a service error to an HTTP status, a stable code and the
// message shown to the caller. Unexpected failures never leak driver details.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrCompensation):
		return http.StatusInternalServerError, codeInternalError, "operation failed, stock needs reconciliation"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, codeForbidden, err.Error()
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, codeValidation, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound, err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, codeInsufficientStock, "insufficient stock"
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict, codeConflict, "stock changed concurrently, retry"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, codeDuplicateRequest, "duplicate request"
	case errors.Is(err, domain.ErrAlreadyReturned):
		return http.StatusConflict, codeAlreadyReturned, "already returned"
	case errors.Is(err, domain.ErrOutstandingBorrows):
		return http.StatusConflict, codeOutstandingBorrows, err.Error()
	case domain.Retriable(err), errors.Is(err, domain.ErrLedgerWrite):
		return http.StatusServiceUnavailable, codeUnavailable, msgRetry
	default:
		return http.StatusInternalServerError, codeInternalError, msgRetry
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
