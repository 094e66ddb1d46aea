// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/toolserver"
)

// relayedHeaders are copied from the upstream response verbatim.
var relayedHeaders = []string{"Content-Type", toolserver.HeaderRequestID}

// handleToolProxy forwards a JSON-RPC call to the tool server. A valid
// access credential is rewritten to the internal trust token plus
// principal headers; anything else is passed through so the tool server
// applies its own authentication.
func (s *Server) handleToolProxy(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(toolserver.HeaderRequestID)
	if requestID == "" {
		requestID = middleware.GetReqID(r.Context())
	}

	target := strings.TrimRight(s.cfg.Gateway.ToolServerURL, "/") + "/rpc"
	out, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target,
		http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, apperr.NewInternalError("failed to build upstream request", err))
		return
	}
	out.Header.Set("Content-Type", "application/json")
	out.Header.Set(toolserver.HeaderRequestID, requestID)
	if accept := r.Header.Get("Accept"); accept != "" {
		out.Header.Set("Accept", accept)
	}
	if trace := r.Header.Get("traceparent"); trace != "" {
		out.Header.Set("traceparent", trace)
	}

	bearer := bearerToken(r)
	if principal, err := s.tokens.VerifyAccess(bearer); err == nil {
		out.Header.Set(toolserver.HeaderInternalToken, s.cfg.Security.InternalTrustToken)
		out.Header.Set(toolserver.HeaderPrincipalID, principal.Subject)
		out.Header.Set(toolserver.HeaderPrincipalRoles, strings.Join(principal.Roles, ","))
	} else if bearer != "" {
		out.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(out)
	if err != nil {
		// The cause names the upstream address; keep it in the logs only.
		logger.Warnw("tool server unreachable", "request_id", requestID, "error", err)
		writeErr(w, apperr.NewGatewayError(nil))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, h := range relayedHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if err := copyStream(w, resp.Body); err != nil {
		logger.Debugw("tool response relay interrupted", "request_id", requestID, "error", err)
	}
}

// copyStream relays the upstream body, flushing as chunks arrive so
// streamed responses reach the client incrementally.
func copyStream(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
