// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/cache"
	"github.com/raniksyn/mediator/pkg/jsonrpc"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/ratelimit"
)

// Methods the tool server dispatches.
const (
	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
)

// observabilityStage opens the request span and times the whole request,
// errors included.
func observabilityStage(d *Deps) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			d.Observer.EmitSpan(ctx, "rpc."+req.Method, map[string]string{
				"request_id": req.RequestID,
				"method":     req.Method,
				"tool":       req.ToolName,
			}, time.Since(start))
			if err != nil {
				d.Observer.EmitError(ctx, string(apperr.As(err).Kind), apperr.As(err).Message, map[string]string{
					"request_id": req.RequestID,
				})
			}
			return resp, err
		}
	}
}

// errorHandlerStage converts structured errors (and panics) into JSON-RPC
// error envelopes. It is always present.
func errorHandlerStage(*Deps) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (resp *jsonrpc.Message, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorw("panic in request handler",
						"request_id", req.RequestID, "panic", fmt.Sprint(r))
					internal := apperr.NewInternalError("internal error", nil)
					req.HTTPStatus = internal.HTTPStatus()
					resp = jsonrpc.FromAppError(req.Msg.ID, internal)
					err = nil
				}
			}()

			resp, err = next(ctx, req)
			if err != nil {
				e := apperr.As(err)
				logger.Infow("request failed",
					"request_id", req.RequestID, "method", req.Method,
					"kind", string(e.Kind), "cause", e.Unwrap())
				req.HTTPStatus = e.HTTPStatus()
				return jsonrpc.FromAppError(req.Msg.ID, e), nil
			}
			return resp, nil
		}
	}
}

// loggingStage records method, principal, and duration, redacting
// sensitive argument values.
func loggingStage(d *Deps) Middleware {
	sensitive := d.Cfg.Logging.SensitiveFields
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			principal := "anonymous"
			if req.Principal != nil {
				principal = req.Principal.Subject
			}
			fields := []any{
				"request_id", req.RequestID,
				"method", req.Method,
				"principal", principal,
				"duration", time.Since(start).String(),
			}
			if req.ToolName != "" {
				fields = append(fields, "tool", req.ToolName,
					"arguments", redact(req.Arguments, sensitive))
			}
			if resp != nil && resp.Error != nil {
				fields = append(fields, "error_code", resp.Error.Code)
			}
			logger.Infow("request handled", fields...)
			return resp, err
		}
	}
}

// redact replaces sensitive argument values before they reach the logs.
func redact(args map[string]any, sensitive []string) map[string]any {
	if len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if slices.Contains(sensitive, k) {
			out[k] = "[REDACTED]"
		} else {
			out[k] = v
		}
	}
	return out
}

// callParams is the tools/call parameter shape.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// validationStage checks the envelope and the per-tool argument schema.
// It runs before authentication so malformed traffic cannot probe auth
// timing.
func validationStage(d *Deps) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
			switch req.Method {
			case MethodToolsList:
				// No parameters.
			case MethodToolsCall:
				var params callParams
				if len(req.Msg.Params) == 0 {
					return nil, apperr.NewValidationError("tools/call requires params", nil)
				}
				if err := json.Unmarshal(req.Msg.Params, &params); err != nil {
					return nil, apperr.NewValidationError("malformed tools/call params", err)
				}
				if params.Name == "" {
					return nil, apperr.NewValidationError("tools/call requires a tool name", nil)
				}
				tool, ok := d.Registry.Get(params.Name)
				if !ok {
					return nil, apperr.NewNotFoundError("unknown tool", nil)
				}
				if err := tool.Schema.Validate(params.Arguments); err != nil {
					return nil, err
				}
				req.ToolName = params.Name
				req.Arguments = params.Arguments
			default:
				return nil, apperr.NewNotFoundError("unknown method", nil)
			}
			return next(ctx, req)
		}
	}
}

// authenticationStage verifies the bearer credential and attaches the
// principal. Requests pre-authenticated by the gateway's trust token pass
// through. Rejections consume the caller's network-address rate budget to
// bound brute force.
func authenticationStage(d *Deps) Middleware {
	public := make(map[string]struct{})
	for _, m := range d.Cfg.Security.PublicMethods {
		public[m] = struct{}{}
	}
	if !d.Cfg.Security.RequireAuth {
		public[MethodToolsList] = struct{}{}
		public["health_check"] = struct{}{}
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
			if req.PreAuthenticated {
				return next(ctx, req)
			}

			_, bypass := public[req.EffectiveMethod()]
			if req.BearerToken == "" {
				if bypass {
					return next(ctx, req)
				}
				return nil, d.authReject(ctx, req, apperr.NewAuthenticationError(nil))
			}

			principal, err := d.Tokens.VerifyAccess(req.BearerToken)
			if err != nil {
				if bypass {
					// A bad credential on a public method degrades to
					// anonymous rather than failing the request.
					return next(ctx, req)
				}
				return nil, d.authReject(ctx, req, err)
			}
			req.Principal = principal
			return next(ctx, req)
		}
	}
}

// authReject applies network-address rate limiting on the authentication
// reject path, so repeated invalid credentials hit 429 before 401.
func (d *Deps) authReject(ctx context.Context, req *Request, authErr error) error {
	if d.NetLimit == nil {
		return authErr
	}
	ok, retry, err := d.NetLimit.Allow(ctx, "addr:"+req.ClientAddr)
	if err == nil && !ok {
		return apperr.NewRateLimitError(ratelimit.RetryAfterSeconds(retry))
	}
	return authErr
}

// authorizationStage consults the authorization engine for tools/call.
// tools/list passes; its response is filtered at dispatch.
func authorizationStage(d *Deps) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
			if req.Method == MethodToolsCall {
				decision, err := d.Engine.Authorize(ctx, req.Principal, req.ToolName, req.Arguments)
				if err != nil {
					return nil, err
				}
				if err := decision.Err(); err != nil {
					return nil, err
				}
			}
			return next(ctx, req)
		}
	}
}

// rateLimitStage admits the request under the caller's budgets. It runs
// after authorization so unauthorized traffic cannot drain a principal's
// budget.
func rateLimitStage(d *Deps) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
			ok, retry, err := d.Limiter.Allow(ctx, req.RateIdentity())
			if err != nil {
				return nil, apperr.NewServiceUnavailableError("rate limiter unavailable", err)
			}
			if !ok {
				return nil, apperr.NewRateLimitError(ratelimit.RetryAfterSeconds(retry))
			}
			return next(ctx, req)
		}
	}
}

// metricsStage counts requests and observes latency per method/status.
func metricsStage(d *Deps) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			status := "ok"
			switch {
			case err != nil:
				status = strconv.Itoa(apperr.As(err).JSONRPCCode())
			case resp != nil && resp.Error != nil:
				status = strconv.Itoa(resp.Error.Code)
			}
			if d.Telemetry != nil {
				d.Telemetry.RequestsTotal.WithLabelValues(req.Method, status).Inc()
				d.Telemetry.RequestDuration.WithLabelValues(req.Method, status).Observe(time.Since(start).Seconds())
			}
			return resp, err
		}
	}
}

// cacheStage serves eligible tools/call results from the result cache and
// populates it on the way out. Streamed responses bypass the cache.
func cacheStage(d *Deps) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
			if req.Method != MethodToolsCall || req.WantStream {
				return next(ctx, req)
			}
			tool, ok := d.Registry.Get(req.ToolName)
			if !ok || !tool.Cacheable {
				return next(ctx, req)
			}
			ttl := d.Cache.TTLFor(req.ToolName)
			if ttl <= 0 {
				return next(ctx, req)
			}

			scope := ""
			if tool.PrincipalVarying && req.Principal != nil {
				scope = req.Principal.Subject
			}
			fingerprint, err := cache.Fingerprint(req.ToolName, scope, req.Arguments)
			if err != nil {
				return next(ctx, req)
			}

			payload, hit, err := d.Cache.GetOrCompute(ctx, fingerprint, ttl, func(cctx context.Context) ([]byte, error) {
				resp, err := next(cctx, req)
				if err != nil {
					return nil, err
				}
				if resp.Error != nil {
					// In-band errors are not cached either; re-dispatch
					// on the next request.
					return nil, apperr.NewInternalError(resp.Error.Message, nil)
				}
				return resp.Result, nil
			})
			if err != nil {
				return nil, err
			}

			if hit {
				d.Observer.EmitCounter("cache_hits_total", map[string]string{"tool": req.ToolName}, 1)
			} else {
				d.Observer.EmitCounter("cache_misses_total", map[string]string{"tool": req.ToolName}, 1)
			}
			return &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: req.Msg.ID, Result: payload}, nil
		}
	}
}
