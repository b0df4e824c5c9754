package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/paylite/session-server/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error       string              `json:"error"`
	Code        apperrors.Code      `json:"code"`
	Category    apperrors.Category  `json:"category"`
	Field       string              `json:"field,omitempty"`
	Recoverable bool                `json:"recoverable"`
	Suggestions []string            `json:"suggestions,omitempty"`
}

// WriteError classifies err and writes it with the appropriate HTTP
// status. Only the user-facing message leaves the process.
func WriteError(w http.ResponseWriter, err error) {
	ce := apperrors.Classify(err)

	if ce.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(ce.RetryAfter.Seconds())))
	}

	WriteJSON(w, statusFromCategory(ce), ErrorResponse{
		Error:       ce.Message,
		Code:        ce.Code,
		Category:    ce.Category,
		Field:       ce.Field,
		Recoverable: ce.Recoverable,
		Suggestions: ce.Suggestions,
	})
}

// statusFromCategory maps error categories to HTTP status codes
func statusFromCategory(ce *apperrors.ClassifiedError) int {
	if ce.Code == apperrors.CodeRateLimited {
		return http.StatusTooManyRequests
	}

	switch ce.Category {
	case apperrors.CategoryValidation:
		return http.StatusBadRequest
	case apperrors.CategoryAuthentication, apperrors.CategorySession:
		return http.StatusUnauthorized
	case apperrors.CategoryAuthorization:
		return http.StatusForbidden
	case apperrors.CategoryNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
