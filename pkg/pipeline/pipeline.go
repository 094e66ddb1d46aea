// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"

	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/authz"
	"github.com/raniksyn/mediator/pkg/cache"
	"github.com/raniksyn/mediator/pkg/config"
	"github.com/raniksyn/mediator/pkg/jsonrpc"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/observability"
	"github.com/raniksyn/mediator/pkg/ratelimit"
	"github.com/raniksyn/mediator/pkg/tools"
)

// Handler processes one request and produces the JSON-RPC response.
type Handler func(ctx context.Context, req *Request) (*jsonrpc.Message, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Stage is one named pipeline entry. The canonical order of stages is
// fixed; a profile only selects which are present.
type Stage struct {
	Name    string
	Enabled func(f config.Features) bool
	Build   func(d *Deps) Middleware
}

// TokenVerifier abstracts the credential service for the auth stage.
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.Identity, error)
}

// Deps carries the services the stages close over.
type Deps struct {
	Cfg       *config.Config
	Tokens    TokenVerifier
	Engine    *authz.Engine
	Limiter   ratelimit.Limiter
	NetLimit  ratelimit.Limiter
	Cache     *cache.Cache
	Registry  *tools.Registry
	Observer  observability.Observer
	Telemetry *observability.Telemetry
}

// stages is the canonical order, outer to inner. Dispatch is appended as
// the innermost handler by New.
var stages = []Stage{
	{Name: "observability", Enabled: func(f config.Features) bool { return f.Metrics }, Build: observabilityStage},
	{Name: "error_handler", Enabled: func(config.Features) bool { return true }, Build: errorHandlerStage},
	{Name: "logging", Enabled: func(f config.Features) bool { return f.EnhancedLogging }, Build: loggingStage},
	{Name: "validation", Enabled: func(f config.Features) bool { return f.Validation }, Build: validationStage},
	{Name: "authentication", Enabled: func(f config.Features) bool { return f.Auth }, Build: authenticationStage},
	{Name: "authorization", Enabled: func(f config.Features) bool { return f.Auth }, Build: authorizationStage},
	{Name: "rate_limit", Enabled: func(f config.Features) bool { return f.RateLimit }, Build: rateLimitStage},
	{Name: "metrics", Enabled: func(f config.Features) bool { return f.Metrics }, Build: metricsStage},
	{Name: "cache", Enabled: func(f config.Features) bool { return f.Cache }, Build: cacheStage},
}

// New composes the pipeline for the configured feature set and returns
// the entry handler plus the names of the active stages for startup logs.
func New(d *Deps) (Handler, []string) {
	if d.Observer == nil {
		d.Observer = observability.Noop{}
	}
	handler := dispatchHandler(d)

	active := []string{"dispatch"}
	for i := len(stages) - 1; i >= 0; i-- {
		s := stages[i]
		if !s.Enabled(d.Cfg.Features) {
			continue
		}
		handler = s.Build(d)(handler)
		active = append([]string{s.Name}, active...)
	}
	logger.Infow("pipeline composed", "stages", active)
	return handler, active
}
