// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolserver exposes the tool pipeline over HTTP: a JSON-RPC
// endpoint, liveness, and metrics. Requests bearing the gateway's
// internal trust token arrive pre-authenticated via principal headers;
// everything else goes through the full pipeline.
package toolserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/config"
	"github.com/raniksyn/mediator/pkg/jsonrpc"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/observability"
	"github.com/raniksyn/mediator/pkg/pipeline"
)

const readHeaderTimeout = 10 * time.Second

// Gateway-to-tool-server headers: the trust token plus the principal
// the gateway verified.
const (
	HeaderInternalToken  = "X-Internal-Token"
	HeaderPrincipalID    = "X-Principal-Id"
	HeaderPrincipalRoles = "X-Principal-Roles"
	HeaderRequestID      = "X-Request-Id"
)

// ndjsonContentType selects the server-streamed response variant.
const ndjsonContentType = "application/x-ndjson"

// Server is the tool server.
type Server struct {
	cfg     *config.Config
	handler pipeline.Handler
	tel     *observability.Telemetry
}

// New builds the server and composes its pipeline.
func New(cfg *config.Config, deps *pipeline.Deps) *Server {
	handler, _ := pipeline.New(deps)
	return &Server{cfg: cfg, handler: handler, tel: deps.Telemetry}
}

// Router returns the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Post("/rpc", s.handleRPC)
	// Legacy path kept for older clients.
	r.Post("/mcp", s.handleRPC)
	r.Get("/health", s.handleHealth)
	if s.tel != nil {
		r.Method(http.MethodGet, "/metrics", s.tel.Handler())
	}
	return r
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// bearerToken extracts the Authorization bearer value.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

// trustedPrincipal checks the internal trust token, carried in the
// X-Internal-Token header or as the bearer value, and when it matches
// reconstructs the principal the gateway verified.
func (s *Server) trustedPrincipal(r *http.Request, bearer string) *auth.Identity {
	secret := s.cfg.Security.InternalTrustToken
	if secret == "" {
		return nil
	}
	presented := r.Header.Get(HeaderInternalToken)
	if presented == "" {
		presented = bearer
	}
	if presented == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
		return nil
	}
	id := r.Header.Get(HeaderPrincipalID)
	if id == "" {
		return nil
	}
	var roles []string
	if raw := r.Header.Get(HeaderPrincipalRoles); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			roles = append(roles, strings.TrimSpace(role))
		}
	}
	return &auth.Identity{Subject: id, Roles: roles, Service: true}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	msg, err := jsonrpc.Decode(r.Body)
	if err != nil {
		_ = jsonrpc.WriteError(w, nil, err)
		return
	}

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = middleware.GetReqID(r.Context())
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	req := &pipeline.Request{
		RequestID:   requestID,
		Msg:         msg,
		Method:      msg.Method,
		BearerToken: bearerToken(r),
		ClientAddr:  clientAddr(r),
		WantStream:  strings.Contains(r.Header.Get("Accept"), ndjsonContentType),
		ReceivedAt:  time.Now(),
	}
	if principal := s.trustedPrincipal(r, req.BearerToken); principal != nil {
		req.Principal = principal
		req.PreAuthenticated = true
		req.BearerToken = ""
	}

	resp, err := s.handler(r.Context(), req)
	if err != nil {
		// Only possible when the error handler stage is absent, which
		// configuration forbids; map it the same way anyway.
		_ = jsonrpc.WriteError(w, msg.ID, err)
		return
	}

	if req.Stream != nil && req.WantStream {
		s.streamResponse(r.Context(), w, req)
		return
	}

	status := http.StatusOK
	if resp.Error != nil && req.HTTPStatus != 0 {
		status = req.HTTPStatus
	}
	w.Header().Set(HeaderRequestID, requestID)
	_ = jsonrpc.WriteHTTP(w, resp, status)
}

// streamResponse relays a result sequence as NDJSON: one line per item,
// then an explicit done marker.
func (*Server) streamResponse(ctx context.Context, w http.ResponseWriter, req *pipeline.Request) {
	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for {
		item, ok, err := req.Stream.Next(ctx)
		if err != nil {
			_ = enc.Encode(map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			_ = enc.Encode(map[string]any{"done": true})
			return
		}
		if err := enc.Encode(map[string]any{"item": item}); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// Serve runs the server until ctx is cancelled. The caller sets up
// signal handling.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ToolServer.Host, s.cfg.ToolServer.Port)
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Infow("tool server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("tool server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("tool server shutdown failed: %w", err)
	}
	logger.Info("tool server stopped")
	return nil
}
