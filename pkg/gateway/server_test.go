// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/auth/session"
	"github.com/raniksyn/mediator/pkg/auth/token"
	"github.com/raniksyn/mediator/pkg/auth/users"
	"github.com/raniksyn/mediator/pkg/authz"
	"github.com/raniksyn/mediator/pkg/cache"
	"github.com/raniksyn/mediator/pkg/config"
	"github.com/raniksyn/mediator/pkg/jsonrpc"
	"github.com/raniksyn/mediator/pkg/kv"
	"github.com/raniksyn/mediator/pkg/observability"
	"github.com/raniksyn/mediator/pkg/pipeline"
	"github.com/raniksyn/mediator/pkg/ratelimit"
	"github.com/raniksyn/mediator/pkg/retriever"
	"github.com/raniksyn/mediator/pkg/storage"
	"github.com/raniksyn/mediator/pkg/storage/sqlite"
	"github.com/raniksyn/mediator/pkg/toolserver"
	"github.com/raniksyn/mediator/pkg/tools"
)

var dbSeq atomic.Int64

// testEnv wires a gateway in front of a real tool server instance.
type testEnv struct {
	gw       *Server
	users    *users.Service
	tokens   *token.Service
	engine   *authz.Engine
	upstream *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Features = config.Features{
		Auth: true, Cache: true, RateLimit: true,
		Validation: true, ErrorHandler: true,
	}
	cfg.Security.SigningKey = "0123456789abcdef0123456789abcdef"
	cfg.Security.InternalTrustToken = "internal-trust-secret-0123456789"
	cfg.Security.BcryptCost = bcrypt.MinCost
	if mutate != nil {
		mutate(cfg)
	}

	dsn := fmt.Sprintf("file:gatewaytest%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := sqlite.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sessions := session.NewMemoryStore()
	tokens := token.NewService(token.Config{
		SigningKey: []byte(cfg.Security.SigningKey),
		AccessTTL:  cfg.Security.AccessTTL,
		RefreshTTL: cfg.Security.RefreshTTL,
	}, sessions)
	userSvc := users.NewService(users.Config{BcryptCost: cfg.Security.BcryptCost}, sqlite.NewUserStore(db))

	bindings, err := authz.NewBindingRegistry(authz.DefaultBindings()...)
	require.NoError(t, err)
	engine := authz.NewEngine(bindings, sqlite.NewGrantStore(db), 0)

	backends := &tools.Backends{
		Web: retriever.NewStatic(retriever.KindWeb, []retriever.Result{
			{Title: "Go news", Content: "release notes go"},
			{Title: "Go blog", Content: "generics go"},
		}),
		Vector: retriever.NewStatic(retriever.KindVector, []retriever.Result{
			{Title: "Go docs", Content: "language reference go", Metadata: map[string]any{"collection": "docs.public"}},
		}),
		Database: retriever.NewStatic(retriever.KindDatabase, []retriever.Result{
			{Title: "orders", Content: "orders go", Metadata: map[string]any{"table": "orders"}},
		}),
	}
	registry, err := tools.NewDefaultRegistry(backends)
	require.NoError(t, err)

	ts := toolserver.New(cfg, &pipeline.Deps{
		Cfg:      cfg,
		Tokens:   tokens,
		Engine:   engine,
		Limiter:  ratelimit.NewLocalLimiter(ratelimit.Config{PerMinute: cfg.RateLimit.PerMinute, PerHour: cfg.RateLimit.PerHour, Burst: cfg.RateLimit.Burst}),
		NetLimit: ratelimit.NewLocalLimiter(ratelimit.Config{PerMinute: 600, PerHour: 10000, Burst: 100}),
		Cache:    cache.New(kv.NewMemoryStore(), cfg.Cache.TTL),
		Registry: registry,
		Observer: observability.Noop{},
	})
	upstream := httptest.NewServer(ts.Router())
	t.Cleanup(upstream.Close)
	cfg.Gateway.ToolServerURL = upstream.URL

	gw := New(cfg, userSvc, tokens, sessions, engine, nil)
	return &testEnv{gw: gw, users: userSvc, tokens: tokens, engine: engine, upstream: upstream}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.gw.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, email, password string) userSummary {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/register",
		map[string]string{"email": email, "password": password}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var u userSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	return u
}

func (e *testEnv) login(t *testing.T, email, password string) tokenResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login",
		map[string]string{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	tok, err := e.tokens.MintAccess(token.UserInfo{ID: "admin-1", Email: "admin@example.com", Roles: []string{auth.AdminRole, auth.RoleUser}})
	require.NoError(t, err)
	return tok
}

func toolCall(name string, args map[string]any) *jsonrpc.Message {
	msg, _ := jsonrpc.NewRequest("tools/call", map[string]any{"name": name, "arguments": args}, 1)
	return msg
}

func TestLoginThenCall(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	u := env.register(t, "u@example.com", "Pw12345!")
	assert.Equal(t, []string{auth.RoleUser}, u.Roles)

	pair := env.login(t, "u@example.com", "Pw12345!")
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Greater(t, pair.ExpiresIn, int64(0))

	// The user role alone cannot reach web search without a grant.
	rec := env.do(t, http.MethodPost, "/tools/call",
		toolCall("search_web", map[string]any{"query": "go", "max_results": 3}), pair.AccessToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Grant the role and retry.
	require.NoError(t, env.engine.GrantPermission(context.Background(), storage.Grant{
		SubjectType:     storage.SubjectRole,
		Subject:         auth.RoleUser,
		ResourceType:    authz.ResourceWebSearch,
		ResourcePattern: "**",
		Actions:         []string{authz.ActionRead},
	}))
	rec = env.do(t, http.MethodPost, "/tools/call",
		toolCall("search_web", map[string]any{"query": "go", "max_results": 3}), pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var msg jsonrpc.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.Nil(t, msg.Error)
	var result tools.SearchResponse
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	assert.LessOrEqual(t, result.Count, 3)
}

func TestLogoutInvalidatesRefresh(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "u@example.com", "Pw12345!")
	pair := env.login(t, "u@example.com", "Pw12345!")

	rec := env.do(t, http.MethodPost, "/auth/logout",
		map[string]string{"refresh_token": pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logging out again is a no-op, not an error.
	rec = env.do(t, http.MethodPost, "/auth/logout",
		map[string]string{"refresh_token": pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["revoked"])
}

func TestRefreshRotatesAndInvalidatesOld(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "u@example.com", "Pw12345!")
	pair := env.login(t, "u@example.com", "Pw12345!")

	rec := env.do(t, http.MethodPost, "/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var next tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	require.NotEmpty(t, next.RefreshToken)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The old refresh credential is single-use.
	rec = env.do(t, http.MethodPost, "/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/auth/register",
		map[string]string{"email": "u@example.com", "password": "short"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env.register(t, "u@example.com", "Pw12345!")
	rec = env.do(t, http.MethodPost, "/auth/register",
		map[string]string{"email": "U@Example.com", "password": "Pw12345!"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code, "duplicate email, case-insensitively")
}

func TestMe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	u := env.register(t, "u@example.com", "Pw12345!")
	pair := env.login(t, "u@example.com", "Pw12345!")

	rec := env.do(t, http.MethodGet, "/auth/me", nil, pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var me userSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, u.ID, me.ID)
	assert.Equal(t, "u@example.com", me.Email)

	rec = env.do(t, http.MethodGet, "/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "u@example.com", "Pw12345!")
	pair := env.login(t, "u@example.com", "Pw12345!")

	// Wrong current password.
	rec := env.do(t, http.MethodPost, "/auth/password",
		map[string]string{"current_password": "Nope1234!", "new_password": "Nw12345!"}, pair.AccessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/password",
		map[string]string{"current_password": "Pw12345!", "new_password": "Nw12345!"}, pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Old refresh sessions are revoked; the old password no longer works.
	rec = env.do(t, http.MethodPost, "/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	env.login(t, "u@example.com", "Nw12345!")
}

func TestProxyRewritesToInternalTrust(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	admin := env.adminToken(t)

	// An admin call succeeds end to end, which requires the tool server
	// to have accepted the trust token plus principal headers.
	rec := env.do(t, http.MethodPost, "/tools/call",
		toolCall("search_vectors", map[string]any{"query": "go", "collection": "docs.public"}), admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var msg jsonrpc.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.Nil(t, msg.Error)
}

func TestProxyPassesThroughAnonymous(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	// health_check is public; no credential needed.
	rec := env.do(t, http.MethodPost, "/tools/call", toolCall("health_check", nil), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Protected tools still fail authentication at the tool server.
	rec = env.do(t, http.MethodPost, "/tools/call",
		toolCall("search_web", map[string]any{"query": "go"}), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProxyUpstreamDownMapsToGatewayError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.upstream.Close()
	admin := env.adminToken(t)

	rec := env.do(t, http.MethodPost, "/tools/call",
		toolCall("health_check", nil), admin)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperr.KindGateway), body["error"].Kind)
	assert.NotContains(t, body["error"].Message, env.upstream.URL, "upstream address must not leak")
}

func TestRateLimitSurfacesRetryAfter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimit{PerMinute: 2, PerHour: 1000, Burst: 2}
	})
	admin := env.adminToken(t)
	call := toolCall("health_check", nil)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/tools/call", call, admin)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/tools/call", call, admin)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var msg jsonrpc.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.NotNil(t, msg.Error)
	var data map[string]any
	require.NoError(t, json.Unmarshal(msg.Error.Data, &data))
	assert.Greater(t, data["retry_after"].(float64), float64(0))
}

func TestAdminSurfaceGating(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "u@example.com", "Pw12345!")
	pair := env.login(t, "u@example.com", "Pw12345!")

	rec := env.do(t, http.MethodGet, "/admin/users", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/users", nil, pair.AccessToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/users", nil, env.adminToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminUserManagement(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	admin := env.adminToken(t)
	u := env.register(t, "u@example.com", "Pw12345!")

	rec := env.do(t, http.MethodGet, "/admin/users?query=u@", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Users []userSummary `json:"users"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Total)

	rec = env.do(t, http.MethodPut, "/admin/users/"+u.ID+"/roles",
		map[string][]string{"roles": {auth.RoleUser, auth.AdminRole}}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated userSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.ElementsMatch(t, []string{auth.RoleUser, auth.AdminRole}, updated.Roles)

	rec = env.do(t, http.MethodPut, "/admin/users/"+u.ID+"/roles",
		map[string][]string{"roles": {"superuser"}}, admin)
	require.Equal(t, http.StatusBadRequest, rec.Code, "unknown roles are rejected")

	rec = env.do(t, http.MethodGet, "/admin/users/nonexistent", nil, admin)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSessionManagement(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	admin := env.adminToken(t)
	u := env.register(t, "u@example.com", "Pw12345!")
	env.login(t, "u@example.com", "Pw12345!")
	env.login(t, "u@example.com", "Pw12345!")

	rec := env.do(t, http.MethodGet, "/admin/users/"+u.ID+"/sessions", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Sessions []session.Record `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Sessions, 2)

	// Revoke one session by jti.
	rec = env.do(t, http.MethodDelete, "/admin/sessions/"+listing.Sessions[0].JTI, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var revoked map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revoked))
	assert.Equal(t, 1, revoked["revoked_count"])

	// Revoking it again is a zero-count no-op.
	rec = env.do(t, http.MethodDelete, "/admin/sessions/"+listing.Sessions[0].JTI, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revoked))
	assert.Equal(t, 0, revoked["revoked_count"])

	// Revoke the rest for the user.
	rec = env.do(t, http.MethodDelete, "/admin/users/"+u.ID+"/sessions", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revoked))
	assert.Equal(t, 1, revoked["revoked_count"])
}

func TestAdminPermissionManagement(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	admin := env.adminToken(t)

	grant := map[string]any{
		"subject_type":     "role",
		"subject":          auth.RoleUser,
		"resource_type":    authz.ResourceVectorDB,
		"resource_pattern": "docs.*",
		"actions":          []string{authz.ActionRead},
	}
	rec := env.do(t, http.MethodPost, "/admin/permissions", grant, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/admin/permissions?subject_type=role&subject=user", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Grants []storage.Grant `json:"grants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Grants, 1)
	assert.Equal(t, "docs.*", listing.Grants[0].ResourcePattern)

	// Invalid patterns are rejected.
	bad := map[string]any{
		"subject_type":     "role",
		"subject":          auth.RoleUser,
		"resource_type":    authz.ResourceVectorDB,
		"resource_pattern": "docs.**.deep",
		"actions":          []string{authz.ActionRead},
	}
	rec = env.do(t, http.MethodPost, "/admin/permissions", bad, admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	revoke := map[string]string{
		"subject_type":     "role",
		"subject":          auth.RoleUser,
		"resource_type":    authz.ResourceVectorDB,
		"resource_pattern": "docs.*",
	}
	rec = env.do(t, http.MethodPost, "/admin/permissions/revoke", revoke, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["revoked"])

	rec = env.do(t, http.MethodPost, "/admin/permissions/revoke", revoke, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["revoked"])
}
