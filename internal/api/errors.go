package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/store"
)

// Error code constants for structured API error responses.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeInternal      = "internal"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeInvalidName   = "invalid_name"
	ErrCodeInvalidField  = "invalid_field"
	ErrCodeOutOfRange    = "out_of_range"
	ErrCodeAlreadyExists = "already_exists"
	ErrCodeUnavailable   = "unavailable"
)

// APIError represents a structured error returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError for JSON serialization.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Code: code, Message: message},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

// writeStoreError maps a dataset or store error to a response.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, dataset.ErrDuplicateID):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, dataset.ErrIndexOutOfRange):
		writeError(w, http.StatusBadRequest, ErrCodeOutOfRange, err.Error())
	case errors.Is(err, store.ErrInvalidField), errors.Is(err, store.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidField, err.Error())
	default:
		logFor(r.Context()).Error("store", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
