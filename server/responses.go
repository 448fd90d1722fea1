package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/jrsteele09/go-user-management/auth"
	"github.com/jrsteele09/go-user-management/federation"
	"github.com/jrsteele09/go-user-management/reset"
	"github.com/jrsteele09/go-user-management/users"
	"github.com/rs/zerolog/log"
)

// errorResponse is the uniform error body for every API failure.
type errorResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// messageResponse is the uniform body for operations with no payload.
type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{
		Status:  status,
		Error:   http.StatusText(status),
		Message: err.Error(),
		Path:    r.URL.Path,
	})
}

// statusForError maps domain errors onto HTTP statuses. Unknown errors are
// internal; domain packages surface everything classifiable as a sentinel.
func statusForError(err error) int {
	switch {
	case stderrors.Is(err, auth.ErrInvalidInput),
		stderrors.Is(err, reset.ErrInvalidInput),
		stderrors.Is(err, federation.ErrEmailMissing):
		return http.StatusBadRequest
	case stderrors.Is(err, auth.ErrAuthenticationFailed),
		stderrors.Is(err, auth.ErrUnauthorized),
		stderrors.Is(err, auth.ErrInvalidTwoFactorCode):
		return http.StatusUnauthorized
	case stderrors.Is(err, auth.ErrAccountLocked),
		stderrors.Is(err, auth.ErrAccountDisabled),
		stderrors.Is(err, auth.ErrAccountExpired),
		stderrors.Is(err, auth.ErrCredentialsExpired):
		return http.StatusForbidden
	case stderrors.Is(err, users.ErrNotFound),
		stderrors.Is(err, reset.ErrUserNotFound),
		stderrors.Is(err, reset.ErrTokenNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, users.ErrDuplicateUsername),
		stderrors.Is(err, users.ErrDuplicateEmail):
		return http.StatusConflict
	case stderrors.Is(err, reset.ErrTokenAlreadyUsed),
		stderrors.Is(err, reset.ErrTokenExpired):
		return http.StatusGone
	case stderrors.Is(err, auth.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
