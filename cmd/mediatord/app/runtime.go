// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/auth/session"
	"github.com/raniksyn/mediator/pkg/auth/token"
	"github.com/raniksyn/mediator/pkg/auth/users"
	"github.com/raniksyn/mediator/pkg/authz"
	"github.com/raniksyn/mediator/pkg/cache"
	"github.com/raniksyn/mediator/pkg/config"
	"github.com/raniksyn/mediator/pkg/kv"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/observability"
	"github.com/raniksyn/mediator/pkg/pipeline"
	"github.com/raniksyn/mediator/pkg/ratelimit"
	"github.com/raniksyn/mediator/pkg/storage"
	"github.com/raniksyn/mediator/pkg/storage/sqlite"
	"github.com/raniksyn/mediator/pkg/tools"
)

// runtime holds the wired services both tiers are assembled from.
type runtime struct {
	cfg      *config.Config
	db       *sql.DB
	sessions session.Store
	kvStore  kv.Store
	users    *users.Service
	tokens   *token.Service
	engine   *authz.Engine
	backends *tools.Backends
	registry *tools.Registry
	tel      *observability.Telemetry
	tracing  *sdktrace.TracerProvider
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Infow("configuration loaded",
		"profile", cfg.Profile, "features", cfg.EnabledFeatures())
	return cfg, nil
}

// buildRuntime wires the backing stores and services. Redis URLs select
// distributed session and KV stores; empty URLs fall back to in-process
// stores suitable for a single instance.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	db, err := sqlite.Open(ctx, cfg.Stores.UserDirectoryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open user directory: %w", err)
	}
	rt.db = db

	if url := cfg.Stores.SessionStoreURL; url != "" {
		rt.sessions, err = session.NewRedisStore(ctx, url, "session:")
		if err != nil {
			rt.close(ctx)
			return nil, fmt.Errorf("failed to connect session store: %w", err)
		}
	} else {
		rt.sessions = session.NewMemoryStore()
		logger.Warn("using in-memory session store; sessions will not survive restarts")
	}

	if url := cfg.Stores.KVStoreURL; url != "" {
		rt.kvStore, err = kv.NewRedisStore(ctx, url, "mediator:")
		if err != nil {
			rt.close(ctx)
			return nil, fmt.Errorf("failed to connect kv store: %w", err)
		}
	} else {
		rt.kvStore = kv.NewMemoryStore()
	}

	rt.tokens = token.NewService(token.Config{
		SigningKey: []byte(cfg.Security.SigningKey),
		KeyID:      cfg.Security.SigningKeyID,
		AccessTTL:  cfg.Security.AccessTTL,
		RefreshTTL: cfg.Security.RefreshTTL,
	}, rt.sessions)

	rt.users = users.NewService(users.Config{BcryptCost: cfg.Security.BcryptCost}, sqlite.NewUserStore(db))

	bindings, err := authz.NewBindingRegistry(authz.DefaultBindings()...)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	rt.engine = authz.NewEngine(bindings, sqlite.NewGrantStore(db), cfg.DecisionCacheTTL)

	rt.backends, err = tools.NewBackends()
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("failed to build retriever back-ends: %w", err)
	}
	if err := rt.backends.Connect(ctx); err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("failed to connect retriever back-ends: %w", err)
	}
	rt.registry, err = tools.NewDefaultRegistry(rt.backends)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	if cfg.Features.Metrics {
		rt.tracing = sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", "mediator"),
			)),
		)
		otel.SetTracerProvider(rt.tracing)
		rt.tel = observability.NewTelemetry("mediator")
	}
	return rt, nil
}

// pipelineDeps assembles the tool server's middleware dependencies.
func (rt *runtime) pipelineDeps() *pipeline.Deps {
	limitCfg := ratelimit.Config{
		PerMinute: rt.cfg.RateLimit.PerMinute,
		PerHour:   rt.cfg.RateLimit.PerHour,
		Burst:     rt.cfg.RateLimit.Burst,
	}
	var limiter ratelimit.Limiter
	if rt.cfg.Stores.KVStoreURL != "" {
		limiter = ratelimit.NewDistributedLimiter(limitCfg, rt.kvStore)
	} else {
		limiter = ratelimit.NewLocalLimiter(limitCfg)
	}

	var observer observability.Observer = observability.Noop{}
	if rt.tel != nil {
		observer = rt.tel
	}

	return &pipeline.Deps{
		Cfg:       rt.cfg,
		Tokens:    rt.tokens,
		Engine:    rt.engine,
		Limiter:   limiter,
		NetLimit:  ratelimit.NewLocalLimiter(limitCfg),
		Cache:     cache.New(rt.kvStore, rt.cfg.Cache.TTL),
		Registry:  rt.registry,
		Observer:  observer,
		Telemetry: rt.tel,
	}
}

// defaultGrants are the baseline permissions for the user role: public
// database tables and per-user vector collections. Admins hold an
// implicit wildcard and need no rows.
var defaultGrants = []storage.Grant{
	{SubjectType: storage.SubjectRole, Subject: auth.RoleUser,
		ResourceType: authz.ResourceDatabase, ResourcePattern: "public.**",
		Actions: []string{authz.ActionRead}},
	{SubjectType: storage.SubjectRole, Subject: auth.RoleUser,
		ResourceType: authz.ResourceVectorDB, ResourcePattern: "users.**",
		Actions: []string{authz.ActionRead}},
}

// bootstrap seeds the admin account and the baseline role grants.
// Grant seeding is an upsert, so restarting is harmless.
func (rt *runtime) bootstrap(ctx context.Context) error {
	if err := rt.users.Bootstrap(ctx, rt.cfg.Admin.Email, rt.cfg.Admin.Password); err != nil {
		return err
	}
	for _, g := range defaultGrants {
		if err := rt.engine.GrantPermission(ctx, g); err != nil {
			return fmt.Errorf("failed to seed default grant: %w", err)
		}
	}
	return nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.tracing != nil {
		if err := rt.tracing.Shutdown(ctx); err != nil {
			logger.Warnw("tracer provider shutdown failed", "error", err)
		}
	}
	if rt.backends != nil {
		rt.backends.Disconnect(ctx)
	}
	if rt.kvStore != nil {
		if err := rt.kvStore.Close(); err != nil {
			logger.Warnw("kv store close failed", "error", err)
		}
	}
	if rt.sessions != nil {
		if err := rt.sessions.Close(); err != nil {
			logger.Warnw("session store close failed", "error", err)
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			logger.Warnw("user directory close failed", "error", err)
		}
	}
}
