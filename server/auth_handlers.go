package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-user-management/auth"
)

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signInResponse struct {
	Token             string   `json:"token"`
	Username          string   `json:"username"`
	Roles             []string `json:"roles"`
	RequiresTwoFactor bool     `json:"requiresTwoFactor"`
}

// SignInHandler verifies credentials and returns a session token. When the
// account has 2FA enabled the token is pending and the client must follow up
// on the verify-2fa-login route.
func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, auth.ErrInvalidInput)
			return
		}

		result, err := s.auth.SignIn(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, signInResponse{
			Token:             result.Token,
			Username:          result.User.Username,
			Roles:             result.Roles,
			RequiresTwoFactor: result.RequiresTwoFactor,
		})
	}
}

type signUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) SignUpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signUpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, auth.ErrInvalidInput)
			return
		}

		_, err := s.auth.SignUp(r.Context(), auth.SignUpRequest{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
			Role:     req.Role,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, messageResponse{Message: "user registered"})
	}
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) ForgotPasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forgotPasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, auth.ErrInvalidInput)
			return
		}

		if _, err := s.resets.Issue(r.Context(), req.Email); err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, messageResponse{Message: "password reset email sent"})
	}
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) ResetPasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetPasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, auth.ErrInvalidInput)
			return
		}

		if err := s.resets.Consume(r.Context(), req.Token, req.NewPassword); err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, messageResponse{Message: "password reset successful"})
	}
}

type verifyTwoFactorLoginRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

// VerifyTwoFactorLoginHandler exchanges a 2FA-pending token plus a valid
// authenticator code for a fully satisfied session token.
func (s *Server) VerifyTwoFactorLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyTwoFactorLoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, auth.ErrInvalidInput)
			return
		}

		result, err := s.auth.VerifyTwoFactorLogin(r.Context(), req.Token, req.Code)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, signInResponse{
			Token:    result.Token,
			Username: result.User.Username,
			Roles:    result.Roles,
		})
	}
}
