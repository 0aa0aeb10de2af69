package main

import (
	"errors"
	"net/http"

	"github.com/example/fitlife/internal/auth"
	"github.com/example/fitlife/internal/httpx"
	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/store"
	"github.com/example/fitlife/internal/validation"
)

// respondError maps an error from the auth service or the store to the response envelope.
// Authentication failures never say which check failed.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		httpx.ErrorDetails(w, http.StatusBadRequest, "Validation failed", verr.Fields)
	case errors.Is(err, httpx.ErrBadBody):
		httpx.Error(w, http.StatusBadRequest, "Invalid request body")
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired):
		httpx.Error(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, auth.ErrInvalidCredentials):
		httpx.Error(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, auth.ErrRefreshTokenNotFound), errors.Is(err, auth.ErrRefreshTokenExpired):
		httpx.Error(w, http.StatusUnauthorized, "Invalid or expired refresh token")
	case errors.Is(err, store.ErrUserExists):
		httpx.Error(w, http.StatusConflict, "User with this email already exists")
	case errors.Is(err, store.ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "Not found")
	case errors.Is(err, store.ErrUnavailable):
		logging.Warn().Err(err).Str("path", r.URL.Path).Msg("credential store unavailable")
		httpx.ErrorDetails(w, http.StatusServiceUnavailable, "Service temporarily unavailable",
			map[string]any{"retryable": true})
	default:
		logging.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("unhandled error")
		httpx.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}
