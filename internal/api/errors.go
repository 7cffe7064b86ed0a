package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeValidation         = "validation_error"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeActionFailed       = "action_failed"
	ErrCodeInternal           = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeTimeout            = "timeout"
)

// errorRule maps a sentinel to a response. An empty message passes the
// error text through.
type errorRule struct {
	target  error
	status  int
	code    string
	message string
}

// domainErrors is matched in order with errors.Is.
var domainErrors = []errorRule{
	{zone.ErrControllerNotFound, http.StatusNotFound, ErrCodeNotFound, "controller not found"},
	{enforcer.ErrEnforcerNotFound, http.StatusNotFound, ErrCodeNotFound, "enforcer not found"},
	{zone.ErrUnknownEvent, http.StatusBadRequest, ErrCodeBadRequest, ""},
	{enforcer.ErrInvalidCommand, http.StatusBadRequest, ErrCodeValidation, ""},
	{zone.ErrInvalidConfig, http.StatusUnprocessableEntity, ErrCodeValidation, ""},
	{zone.ErrActionFailed, http.StatusBadGateway, ErrCodeActionFailed, ""},
	{zone.ErrClosed, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "controller is shutting down"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout, "controller did not respond in time"},
}

// writeDomainError writes the response for a zone or enforcer error. An
// error no rule matches becomes a 500 carrying fallback, and known is false
// so the caller can log it.
func writeDomainError(w http.ResponseWriter, err error, fallback string) (known bool) {
	for _, rule := range domainErrors {
		if !errors.Is(err, rule.target) {
			continue
		}
		msg := rule.message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, rule.status, rule.code, msg)
		return true
	}
	writeInternalError(w, fallback)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
