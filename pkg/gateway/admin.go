// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func adminActor(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Subject
	}
	return "unknown"
}

// handleSearchUsers lists users, filtered by an optional email substring.
func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	matches, total, err := s.users.Search(r.Context(), r.URL.Query().Get("query"), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}

	summaries := make([]userSummary, 0, len(matches))
	for i := range matches {
		summaries = append(summaries, summarize(&matches[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": summaries,
		"total": total,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(user))
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

// handleSetUserRoles replaces a user's roles and drops any cached
// authorization decisions for them.
func (s *Server) handleSetUserRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body setRolesRequest
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.users.SetRoles(r.Context(), id, body.Roles); err != nil {
		writeErr(w, err)
		return
	}
	s.engine.InvalidatePrincipal(id)
	logger.Infow("user roles changed", "actor", adminActor(r), "user_id", id, "roles", body.Roles)

	user, err := s.users.FindByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(user))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := pageParams(r)
	records, next, err := s.sessions.ListActive(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":    records,
		"next_cursor": next,
	})
}

func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.sessions.ListByUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

// handleRevokeSession revokes one session. Revoking an absent session is
// a no-op with revoked_count 0.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	jti := chi.URLParam(r, "jti")
	revoked, err := s.tokens.Revoke(r.Context(), jti)
	if err != nil {
		writeErr(w, err)
		return
	}
	count := 0
	if revoked {
		count = 1
		logger.Infow("session revoked", "actor", adminActor(r), "jti", jti)
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked_count": count})
}

func (s *Server) handleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	count, err := s.tokens.RevokeAll(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if count > 0 {
		logger.Infow("user sessions revoked", "actor", adminActor(r), "user_id", id, "count", count)
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked_count": count})
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	grants, err := s.engine.ListPermissions(r.Context(), q.Get("subject_type"), q.Get("subject"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if grants == nil {
		grants = []storage.Grant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var grant storage.Grant
	if err := decodeJSON(r, &grant); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.engine.GrantPermission(r.Context(), grant); err != nil {
		writeErr(w, err)
		return
	}
	logger.Infow("permission granted", "actor", adminActor(r),
		"subject_type", grant.SubjectType, "subject", grant.Subject,
		"resource_type", grant.ResourceType, "pattern", grant.ResourcePattern)
	writeJSON(w, http.StatusCreated, grant)
}

type revokePermissionRequest struct {
	SubjectType     string `json:"subject_type"`
	Subject         string `json:"subject"`
	ResourceType    string `json:"resource_type"`
	ResourcePattern string `json:"resource_pattern"`
}

// handleRevokePermission removes one grant. Revoking an absent grant is
// a no-op with revoked false.
func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	var body revokePermissionRequest
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.SubjectType == "" || body.Subject == "" || body.ResourceType == "" || body.ResourcePattern == "" {
		writeErr(w, apperr.NewValidationError("all grant key fields are required", nil))
		return
	}

	revoked, err := s.engine.RevokePermission(r.Context(),
		body.SubjectType, body.Subject, body.ResourceType, body.ResourcePattern)
	if err != nil {
		writeErr(w, err)
		return
	}
	if revoked {
		logger.Infow("permission revoked", "actor", adminActor(r),
			"subject_type", body.SubjectType, "subject", body.Subject)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}
