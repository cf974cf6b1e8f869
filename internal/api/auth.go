package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/webiot/relay/internal/audit"
	"github.com/webiot/relay/internal/auth"
)

// registerRequest is the body of POST /api/auth/register.
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest is the body of POST /api/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionResponse is returned when a session is opened.
type sessionResponse struct {
	Success   bool          `json:"success"`
	User      auth.Identity `json:"user"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// meResponse is returned by GET /api/auth/me.
type meResponse struct {
	User *auth.Identity `json:"user"`
}

// handleRegister creates an account and signs the caller in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.accounts.Register(r.Context(), auth.Registration{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "username already taken")
		case errors.Is(err, auth.ErrInvalidUsername),
			errors.Is(err, auth.ErrInvalidPassword),
			errors.Is(err, auth.ErrInvalidEmail):
			writeValidationError(w, err.Error())
		default:
			s.logger.Error("registration failed", "error", err)
			writeInternalError(w, "registration failed")
		}
		return
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	s.auditLog(audit.ActionRegister, user.Identity(), "", nil)
	s.openSession(w, http.StatusCreated, user.Identity())
}

// handleLogin verifies credentials and signs the caller in.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeValidationError(w, "username and password are required")
		return
	}

	user, err := s.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.auditLog(audit.ActionLoginFailed, auth.Identity{Username: req.Username}, "", nil)
			writeUnauthorized(w, "invalid credentials")
			return
		}
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	s.auditLog(audit.ActionLogin, user.Identity(), "", nil)
	s.openSession(w, http.StatusOK, user.Identity())
}

// handleLogout clears the session cookie. Tokens are stateless, so a
// bearer token stays valid until it expires.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.identityFromRequest(r); ok {
		s.auditLog(audit.ActionLogout, id, "", nil)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secCfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleMe returns the signed-in identity, or null.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identityFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusOK, meResponse{})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: &id})
}

// openSession issues a token, sets it as the session cookie and writes it.
func (s *Server) openSession(w http.ResponseWriter, status int, id auth.Identity) {
	token, expires, err := s.sessions.Issue(id)
	if err != nil {
		s.logger.Error("issuing session failed", "error", err)
		writeInternalError(w, "could not create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   s.secCfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, status, sessionResponse{
		Success:   true,
		User:      id,
		Token:     token,
		ExpiresAt: expires,
	})
}
