// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the client-facing tier: credential lifecycle
// endpoints, the tool-call proxy that rewrites client credentials to
// internal trust, and the role-gated admin surface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/auth/session"
	"github.com/raniksyn/mediator/pkg/auth/token"
	"github.com/raniksyn/mediator/pkg/auth/users"
	"github.com/raniksyn/mediator/pkg/authz"
	"github.com/raniksyn/mediator/pkg/config"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/observability"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxBodyBytes      = 1 << 20
)

// Server is the gateway.
type Server struct {
	cfg      *config.Config
	users    *users.Service
	tokens   *token.Service
	sessions session.Store
	engine   *authz.Engine
	tel      *observability.Telemetry

	// client carries no overall timeout: tool responses may stream.
	// Per-request deadlines come from the inbound request context.
	client *http.Client
}

// New builds the gateway server.
func New(cfg *config.Config, userSvc *users.Service, tokens *token.Service,
	sessions session.Store, engine *authz.Engine, tel *observability.Telemetry) *Server {
	return &Server{
		cfg:      cfg,
		users:    userSvc,
		tokens:   tokens,
		sessions: sessions,
		engine:   engine,
		tel:      tel,
		client:   &http.Client{},
	}
}

// Router returns the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Post("/password", s.handleChangePassword)
		r.Get("/me", s.handleMe)
	})

	r.Post("/tools/*", s.handleToolProxy)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/users", s.handleSearchUsers)
		r.Get("/users/{id}", s.handleGetUser)
		r.Put("/users/{id}/roles", s.handleSetUserRoles)
		r.Get("/users/{id}/sessions", s.handleListUserSessions)
		r.Delete("/users/{id}/sessions", s.handleRevokeUserSessions)
		r.Get("/sessions", s.handleListSessions)
		r.Delete("/sessions/{jti}", s.handleRevokeSession)
		r.Get("/permissions", s.handleListPermissions)
		r.Post("/permissions", s.handleGrantPermission)
		r.Post("/permissions/revoke", s.handleRevokePermission)
	})

	r.Get("/health", s.handleHealth)
	if s.tel != nil {
		r.Method(http.MethodGet, "/metrics", s.tel.Handler())
	}
	return r
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bearerToken extracts the Authorization bearer value.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeJSON reads a bounded JSON body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.NewValidationError("malformed request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("response encoding failed", "error", err)
	}
}

// errorBody is the REST error envelope. Causes stay in the logs.
type errorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func writeErr(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	writeJSON(w, e.HTTPStatus(), map[string]errorBody{"error": {
		Kind:    string(e.Kind),
		Message: e.Message,
		Data:    e.Data,
	}})
}

// requireAdmin verifies the access credential and demands the admin role.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.tokens.VerifyAccess(bearerToken(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		if !principal.IsAdmin() {
			writeErr(w, apperr.NewAuthorizationError("admin role required", nil))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), principal)))
	})
}

// Serve runs the gateway until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Infow("gateway listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("gateway stopped", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}
