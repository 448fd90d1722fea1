package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-user-management/audit"
	"github.com/jrsteele09/go-user-management/auth"
	"github.com/jrsteele09/go-user-management/users"
)

type enableTwoFactorResponse struct {
	ProvisioningURI string `json:"provisioningUri"`
}

// EnableTwoFactorHandler starts 2FA enrollment for the caller. The returned
// provisioning URI renders as a QR code client-side; 2FA stays off until the
// first code is confirmed.
func (s *Server) EnableTwoFactorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.currentUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		uri, err := s.auth.EnableTwoFactor(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, enableTwoFactorResponse{ProvisioningURI: uri})
	}
}

type verifyTwoFactorRequest struct {
	Code string `json:"code"`
}

func (s *Server) VerifyTwoFactorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyTwoFactorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, auth.ErrInvalidInput)
			return
		}

		user, err := s.currentUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := s.auth.ConfirmTwoFactor(r.Context(), user.ID, req.Code); err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, messageResponse{Message: "2FA verified"})
	}
}

func (s *Server) DisableTwoFactorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.currentUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := s.auth.DisableTwoFactor(r.Context(), user.ID); err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, messageResponse{Message: "2FA disabled"})
	}
}

func (s *Server) CurrentUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.currentUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *Server) CurrentUsernameHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := r.Context().Value(ContextKeyUsername).(string)
		if !ok || username == "" {
			writeError(w, r, auth.ErrUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"username": username})
	}
}

// SignOutHandler revokes the presented token for the remainder of its
// natural lifetime. Revocation takes effect on the next protected request.
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(r.Context())
		if !ok {
			writeError(w, r, auth.ErrUnauthorized)
			return
		}

		// Tokens the codec validates always carry an expiry; the TTL
		// fallback only covers a claims set built by hand.
		naturalExpiry := time.Now().Add(s.codec.TTL())
		if claims.ExpiresAt != nil {
			naturalExpiry = claims.ExpiresAt.Time
		}
		if err := s.revocations.Revoke(claims.ID, naturalExpiry); err != nil {
			writeError(w, r, err)
			return
		}

		s.recorder.Record(audit.Event{
			Timestamp: time.Now(),
			Username:  claims.Subject,
			Action:    audit.ActionTokenRevocation,
			Success:   true,
		})
		writeJSON(w, http.StatusOK, messageResponse{Message: "signed out"})
	}
}

func (s *Server) currentUser(r *http.Request) (*users.User, error) {
	username, ok := r.Context().Value(ContextKeyUsername).(string)
	if !ok || username == "" {
		return nil, auth.ErrUnauthorized
	}
	return s.auth.UserByUsername(r.Context(), username)
}
