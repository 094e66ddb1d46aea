// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/auth/token"
	"github.com/raniksyn/mediator/pkg/storage"
)

// userSummary is the public projection of a user record.
type userSummary struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func summarize(u *storage.User) userSummary {
	return userSummary{
		ID:        u.ID,
		Email:     u.Email,
		Roles:     u.Roles,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

// tokenResponse is the login/refresh response shape.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

func pairResponse(p *token.Pair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "bearer",
		ExpiresIn:        p.ExpiresIn,
		RefreshExpiresIn: p.RefreshExpiresIn,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Device   string `json:"device,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	user, err := s.users.Register(r.Context(), body.Email, body.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	user, err := s.users.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		writeErr(w, err)
		return
	}

	metadata := map[string]string{"client_addr": clientAddr(r)}
	if ua := r.UserAgent(); ua != "" {
		metadata["user_agent"] = ua
	}
	pair, err := s.tokens.MintPair(r.Context(), token.UserInfo{
		ID: user.ID, Email: user.Email, Roles: user.Roles,
	}, body.Device, metadata)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefresh rotates a refresh credential. Roles are re-read from the
// user directory so role changes take effect at rotation.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	rec, err := s.tokens.VerifyRefresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeErr(w, err)
		return
	}

	user, err := s.users.FindByID(r.Context(), rec.UserID)
	if err != nil {
		// The account vanished since the session was minted.
		writeErr(w, apperr.NewAuthenticationError(err))
		return
	}
	if !user.Active {
		writeErr(w, apperr.NewAuthenticationError(errors.New("account deactivated")))
		return
	}

	pair, err := s.tokens.Rotate(r.Context(), body.RefreshToken, token.UserInfo{
		ID: user.ID, Email: user.Email, Roles: user.Roles,
	}, rec.Device, rec.Metadata)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

// handleLogout revokes the refresh credential from the body or the
// Authorization header. Logging out an already-revoked session succeeds
// with revoked=false.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	_ = decodeJSON(r, &body)
	credential := body.RefreshToken
	if credential == "" {
		credential = bearerToken(r)
	}
	if credential == "" {
		writeErr(w, apperr.NewValidationError("logout requires a refresh credential", nil))
		return
	}

	rec, err := s.tokens.VerifyRefresh(r.Context(), credential)
	if err != nil {
		if errors.Is(err, token.ErrSessionRevoked) {
			writeJSON(w, http.StatusOK, map[string]bool{"revoked": false})
			return
		}
		writeErr(w, err)
		return
	}

	revoked, err := s.tokens.Revoke(r.Context(), rec.JTI)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword rotates the caller's password after verifying the
// current one, then revokes all refresh sessions so credentials minted
// under the old password die with it.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, err := s.tokens.VerifyAccess(bearerToken(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	var body changePasswordRequest
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.users.ChangePassword(r.Context(), principal.Subject, body.CurrentPassword, body.NewPassword); err != nil {
		writeErr(w, err)
		return
	}
	revoked, err := s.tokens.RevokeAll(r.Context(), principal.Subject)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": true, "revoked_sessions": revoked})
}

// handleMe returns the authenticated principal, enriched from the user
// directory when the subject resolves to a local account.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, err := s.tokens.VerifyAccess(bearerToken(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	if user, err := s.users.FindByID(r.Context(), principal.Subject); err == nil {
		writeJSON(w, http.StatusOK, summarize(user))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    principal.Subject,
		"email": principal.Email,
		"roles": principal.Roles,
	})
}
